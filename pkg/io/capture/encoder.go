package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

var ErrAlreadyStreaming = errors.New("encoder already streaming")

const (
	DefaultSampleRate       = 16000
	DefaultFrameSize        = 4096
	DefaultSilenceThreshold = 0.01
)

type Config struct {
	SampleRate       int     `mapstructure:"sample_rate"`
	FrameSize        int     `mapstructure:"frame_size"`
	SilenceThreshold float64 `mapstructure:"silence_threshold"`
	EchoCancellation bool    `mapstructure:"echo_cancellation"`
	NoiseSuppression bool    `mapstructure:"noise_suppression"`
}

func DefaultConfig() Config {
	return Config{
		SampleRate:       DefaultSampleRate,
		FrameSize:        DefaultFrameSize,
		SilenceThreshold: DefaultSilenceThreshold,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

// Chunk is one transmitted frame.
type Chunk struct {
	Sequence  uint64
	Data      string // base64 PCM16LE
	Timestamp int64  // unix millis at capture
}

// Sink delivers a chunk to the remote end.
type Sink func(Chunk) error

type Stats struct {
	Captured   uint64 `json:"captured"`
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Failed     uint64 `json:"failed"`
}

// Encoder turns microphone frames into gated base64 PCM chunks.
type Encoder struct {
	cfg    Config
	source Source
	sink   Sink
	clock  clock.Clock
	log    *Logger.Logger

	mu     sync.Mutex
	active bool
	stream Stream
	seq    uint64
	stats  Stats
}

func NewEncoder(cfg Config, source Source, sink Sink, clk clock.Clock, logger *Logger.Logger) *Encoder {
	d := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = d.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = d.FrameSize
	}
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = d.SilenceThreshold
	}
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Encoder{cfg: cfg, source: source, sink: sink, clock: clk, log: logger.Named("encoder")}
}

// Start acquires the microphone and begins forwarding frames. Acquisition
// errors abort the start and leave the encoder stopped.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrAlreadyStreaming
	}
	e.active = true
	e.seq = 0
	e.mu.Unlock()

	stream, err := e.source.Open(ctx, Constraints{
		SampleRate:       e.cfg.SampleRate,
		Channels:         1,
		FrameSize:        e.cfg.FrameSize,
		EchoCancellation: e.cfg.EchoCancellation,
		NoiseSuppression: e.cfg.NoiseSuppression,
	}, e.handleFrame)
	if err != nil {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrMicrophoneUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	e.mu.Lock()
	if !e.active {
		// stopped while the device was opening
		e.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	e.stream = stream
	e.mu.Unlock()
	e.log.Infof("capture started rate=%d frame=%d", e.cfg.SampleRate, e.cfg.FrameSize)
	return nil
}

func (e *Encoder) handleFrame(frame []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}

	seq := e.seq
	e.seq++
	e.stats.Captured++

	if Peak(frame) <= e.cfg.SilenceThreshold {
		e.stats.Suppressed++
		return
	}

	chunk := Chunk{
		Sequence:  seq,
		Data:      base64.StdEncoding.EncodeToString(FloatToPCM16(frame)),
		Timestamp: e.clock.Now().UnixMilli(),
	}
	// Held under the lock so Stop cannot return while a send is in flight.
	if err := e.sink(chunk); err != nil {
		e.stats.Failed++
		e.log.Debugf("chunk %d not sent: %v", seq, err)
		return
	}
	e.stats.Sent++
}

// Stop releases the microphone. No frame is forwarded once Stop returns.
// Safe to call when not streaming.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return nil
	}
	e.active = false
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("release microphone: %w", err)
	}
	e.log.Infof("capture stopped")
	return nil
}

func (e *Encoder) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Encoder) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
