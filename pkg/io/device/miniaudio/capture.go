package miniaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
)

// Source opens the default microphone as 32-bit float mono frames.
type Source struct {
	ctx *Context
}

func NewSource(ctx *Context) *Source {
	return &Source{ctx: ctx}
}

type captureStream struct {
	device *malgo.Device
	once   sync.Once
	err    error
}

func (s *captureStream) Close() error {
	s.once.Do(func() {
		s.err = s.device.Stop()
		s.device.Uninit()
	})
	return s.err
}

// Open implements capture.Source. Echo cancellation and noise suppression
// are left to the OS audio stack; miniaudio has no such processing.
func (s *Source) Open(ctx context.Context, c capture.Constraints, onFrame capture.FrameFunc) (capture.Stream, error) {
	if s.ctx == nil || s.ctx.ctx == nil {
		return nil, capture.ErrMicrophoneUnavailable
	}
	if c.FrameSize <= 0 {
		c.FrameSize = capture.DefaultFrameSize
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.Alsa.NoMMap = 1

	frame := make([]float32, 0, c.FrameSize)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			for i := 0; i+4 <= len(input); i += 4 {
				frame = append(frame, math.Float32frombits(binary.LittleEndian.Uint32(input[i:])))
				if len(frame) == c.FrameSize {
					onFrame(frame)
					frame = frame[:0]
				}
			}
		},
	}

	device, err := malgo.InitDevice(s.ctx.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrMicrophoneUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: %v", capture.ErrMicrophoneUnavailable, err)
	}
	s.ctx.logger.Infof("microphone opened rate=%d frame=%d", c.SampleRate, c.FrameSize)
	return &captureStream{device: device}, nil
}
