package playback

import (
	"encoding/binary"
	"errors"
	"time"
)

var errShortBuffer = errors.New("short audio buffer")

// Buffer is one decoded unit of playable audio: PCM16LE samples.
type Buffer struct {
	PCM        []byte
	SampleRate int32
	Channels   int16
	ReceivedAt time.Time
}

// Duration is the playing time of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.PCM) / (2 * int(b.Channels))
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// MarshalBinary lays the buffer out as
// receivedAt(8) + sampleRate(4) + channels(2) + pcmLen(4) + pcm.
func (b *Buffer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 18+len(b.PCM))
	binary.LittleEndian.PutUint64(buf[0:], uint64(b.ReceivedAt.UnixNano()))
	binary.LittleEndian.PutUint32(buf[8:], uint32(b.SampleRate))
	binary.LittleEndian.PutUint16(buf[12:], uint16(b.Channels))
	binary.LittleEndian.PutUint32(buf[14:], uint32(len(b.PCM)))
	copy(buf[18:], b.PCM)
	return buf, nil
}

func (b *Buffer) UnmarshalBinary(data []byte) error {
	if len(data) < 18 {
		return errShortBuffer
	}
	b.ReceivedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(data[0:])))
	b.SampleRate = int32(binary.LittleEndian.Uint32(data[8:]))
	b.Channels = int16(binary.LittleEndian.Uint16(data[12:]))
	n := int(binary.LittleEndian.Uint32(data[14:]))
	if len(data[18:]) < n {
		return errShortBuffer
	}
	b.PCM = make([]byte, n)
	copy(b.PCM, data[18:18+n])
	return nil
}
