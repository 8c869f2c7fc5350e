package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/xpanvictor/agentcall/pkg/utils/clock"
)

type fakeStream struct{ closed int }

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type fakeSource struct {
	constraints Constraints
	onFrame     FrameFunc
	stream      *fakeStream
	err         error
}

func (f *fakeSource) Open(ctx context.Context, c Constraints, onFrame FrameFunc) (Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.constraints = c
	f.onFrame = onFrame
	f.stream = &fakeStream{}
	return f.stream, nil
}

func frame(v float32) []float32 {
	out := make([]float32, 8)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFloatToPCM16(t *testing.T) {
	pcm := FloatToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 0x7FFF, -0x8000, 0x7FFF, -0x8000, 0x3FFF}
	for i, w := range want {
		got := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if got != w {
			t.Errorf("Sample %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestPeak(t *testing.T) {
	if p := Peak([]float32{0.1, -0.7, 0.3}); p < 0.69 || p > 0.71 {
		t.Errorf("Expected peak 0.7, got %f", p)
	}
	if p := Peak(nil); p != 0 {
		t.Errorf("Expected peak 0 for empty frame, got %f", p)
	}
}

func TestEncoderGatesSilenceAndCountsEveryFrame(t *testing.T) {
	src := &fakeSource{}
	var chunks []Chunk
	clk := clock.NewFake(time.UnixMilli(1700000000000))
	enc := NewEncoder(DefaultConfig(), src, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	}, clk, nil)

	if err := enc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if src.constraints.SampleRate != 16000 || src.constraints.Channels != 1 || !src.constraints.EchoCancellation || !src.constraints.NoiseSuppression {
		t.Errorf("Unexpected constraints %+v", src.constraints)
	}

	levels := []float32{0.5, 0.001, 0.01, 0.2, 0}
	for _, l := range levels {
		src.onFrame(frame(l))
	}

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks sent, got %d", len(chunks))
	}
	if chunks[0].Sequence != 0 || chunks[1].Sequence != 3 {
		t.Errorf("Expected sequences 0 and 3, got %d and %d", chunks[0].Sequence, chunks[1].Sequence)
	}
	if chunks[0].Timestamp != 1700000000000 {
		t.Errorf("Unexpected timestamp %d", chunks[0].Timestamp)
	}
	raw, err := base64.StdEncoding.DecodeString(chunks[0].Data)
	if err != nil || len(raw) != 16 {
		t.Errorf("Expected 16 bytes of PCM, got %d (%v)", len(raw), err)
	}

	st := enc.Stats()
	if st.Captured != 5 || st.Sent != 2 || st.Suppressed != 3 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestEncoderStopsForwarding(t *testing.T) {
	src := &fakeSource{}
	sent := 0
	enc := NewEncoder(DefaultConfig(), src, func(c Chunk) error {
		sent++
		return nil
	}, nil, nil)

	if err := enc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.onFrame(frame(0.5))
	if err := enc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	src.onFrame(frame(0.5))
	src.onFrame(frame(0.9))

	if sent != 1 {
		t.Errorf("Expected 1 chunk before stop, got %d", sent)
	}
	if src.stream.closed != 1 {
		t.Errorf("Expected stream released once, got %d", src.stream.closed)
	}
	if err := enc.Stop(); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}
	if src.stream.closed != 1 {
		t.Errorf("Second Stop should not release again")
	}
	if enc.Active() {
		t.Errorf("Expected encoder inactive")
	}
}

func TestEncoderStartFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"permission", ErrPermissionDenied, ErrPermissionDenied},
		{"no device", errors.New("no capture device"), ErrMicrophoneUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc := NewEncoder(DefaultConfig(), &fakeSource{err: tc.err}, func(Chunk) error { return nil }, nil, nil)
			err := enc.Start(context.Background())
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
			if enc.Active() {
				t.Errorf("Expected encoder inactive after failed start")
			}
		})
	}
}

func TestEncoderRejectsDoubleStart(t *testing.T) {
	enc := NewEncoder(DefaultConfig(), &fakeSource{}, func(Chunk) error { return nil }, nil, nil)
	if err := enc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := enc.Start(context.Background()); !errors.Is(err, ErrAlreadyStreaming) {
		t.Errorf("Expected ErrAlreadyStreaming, got %v", err)
	}
}

func TestSinkFailureCounted(t *testing.T) {
	src := &fakeSource{}
	enc := NewEncoder(DefaultConfig(), src, func(Chunk) error { return errors.New("closed") }, nil, nil)
	_ = enc.Start(context.Background())
	src.onFrame(frame(0.5))
	if st := enc.Stats(); st.Failed != 1 || st.Sent != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}
