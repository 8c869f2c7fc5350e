package miniaudio

import "encoding/binary"

// toDeviceFormat downmixes interleaved PCM16LE to mono and resamples it
// linearly to the device rate.
func toDeviceFormat(pcm []byte, rate, channels, deviceRate int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[(i*channels+ch)*2:])))
		}
		mono[i] = int16(sum / int32(channels))
	}
	if rate <= 0 || rate == deviceRate || frames == 0 {
		return mono
	}

	outLen := int(int64(frames) * int64(deviceRate) / int64(rate))
	out := make([]int16, outLen)
	step := float64(rate) / float64(deviceRate)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= frames-1 {
			out[i] = mono[frames-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(mono[j])*(1-frac) + float64(mono[j+1])*frac)
	}
	return out
}

func mix(a, b int16) int16 {
	s := int32(a) + int32(b)
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}
