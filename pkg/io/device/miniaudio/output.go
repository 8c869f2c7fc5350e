package miniaudio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/xpanvictor/agentcall/pkg/io/playback"
)

const DefaultOutputRate = 24000

// Output plays PCM on the default speaker. The stream slot plays one queued
// buffer at a time; the clip slot is mixed on top of it.
type Output struct {
	ctx    *Context
	rate   int
	device *malgo.Device

	mu     sync.Mutex
	stream []int16
	done   func()
	clip   []int16
	closed bool
}

func NewOutput(ctx *Context, rate int) (*Output, error) {
	if ctx == nil || ctx.ctx == nil {
		return nil, fmt.Errorf("audio context not initialised")
	}
	if rate <= 0 {
		rate = DefaultOutputRate
	}
	o := &Output{ctx: ctx, rate: rate}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.ctx.Context, cfg, malgo.DeviceCallbacks{Data: o.fill})
	if err != nil {
		return nil, fmt.Errorf("failed to init speaker: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start speaker: %w", err)
	}
	o.device = device
	return o, nil
}

// Play implements playback.Output.
func (o *Output) Play(b playback.Buffer, done func()) error {
	samples := toDeviceFormat(b.PCM, int(b.SampleRate), int(b.Channels), o.rate)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("speaker closed")
	}
	if o.done != nil {
		return fmt.Errorf("stream slot busy")
	}
	if len(samples) == 0 {
		go done()
		return nil
	}
	o.stream = samples
	o.done = done
	return nil
}

// PlayClip implements playback.Output; a new clip replaces the current one.
func (o *Output) PlayClip(b playback.Buffer) error {
	samples := toDeviceFormat(b.PCM, int(b.SampleRate), int(b.Channels), o.rate)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("speaker closed")
	}
	o.clip = samples
	return nil
}

// Stop implements playback.Stopper.
func (o *Output) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stream, o.clip, o.done = nil, nil, nil
}

func (o *Output) fill(out, _ []byte, frameCount uint32) {
	var finished func()

	o.mu.Lock()
	for i := 0; i < int(frameCount) && i*2+1 < len(out); i++ {
		var s int16
		if len(o.stream) > 0 {
			s = o.stream[0]
			o.stream = o.stream[1:]
		}
		if len(o.clip) > 0 {
			s = mix(s, o.clip[0])
			o.clip = o.clip[1:]
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	if len(o.stream) == 0 && o.done != nil {
		finished = o.done
		o.done = nil
	}
	o.mu.Unlock()

	// off the audio thread
	if finished != nil {
		go finished()
	}
}

func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.stream, o.clip, o.done = nil, nil, nil
	o.mu.Unlock()

	err := o.device.Stop()
	o.device.Uninit()
	return err
}
