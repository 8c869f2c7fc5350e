package miniaudio

import (
	"encoding/binary"
	"testing"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestToDeviceFormatDownmix(t *testing.T) {
	got := toDeviceFormat(pcm(100, 300, -200, -400), 16000, 2, 16000)
	if len(got) != 2 || got[0] != 200 || got[1] != -300 {
		t.Errorf("Unexpected downmix %v", got)
	}
}

func TestToDeviceFormatResample(t *testing.T) {
	got := toDeviceFormat(pcm(0, 1000, 2000, 3000), 16000, 1, 32000)
	if len(got) != 8 {
		t.Fatalf("Expected 8 samples, got %d", len(got))
	}
	if got[0] != 0 || got[1] != 500 || got[2] != 1000 {
		t.Errorf("Unexpected interpolation %v", got)
	}
}

func TestMixSaturates(t *testing.T) {
	if mix(30000, 10000) != 32767 || mix(-30000, -10000) != -32768 || mix(1, 2) != 3 {
		t.Errorf("Unexpected mix results")
	}
}
