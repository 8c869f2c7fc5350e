package capture

import (
	"context"
	"errors"
)

var (
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrPermissionDenied      = errors.New("microphone permission denied")
)

// Constraints requested from the capture device.
type Constraints struct {
	SampleRate       int
	Channels         int
	FrameSize        int
	EchoCancellation bool
	NoiseSuppression bool
}

// FrameFunc receives one frame of mono float samples in [-1, 1]. The slice
// is only valid for the duration of the call.
type FrameFunc func(frame []float32)

// Stream is a live capture; Close releases the device.
type Stream interface {
	Close() error
}

// Source acquires microphone captures.
type Source interface {
	Open(ctx context.Context, c Constraints, onFrame FrameFunc) (Stream, error)
}
