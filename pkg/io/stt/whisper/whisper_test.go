package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xpanvictor/agentcall/pkg/io/capture"
	"github.com/xpanvictor/agentcall/pkg/io/stt"
	"github.com/xpanvictor/agentcall/pkg/io/stt/vad"
)

func TestPCMToWAVHeader(t *testing.T) {
	wav := PCMToWAV([]byte{1, 2, 3, 4}, 16000)
	if len(wav) != 48 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("Unexpected header %q", wav[:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("Expected rate 16000, got %d", rate)
	}
	if n := binary.LittleEndian.Uint32(wav[40:44]); n != 4 {
		t.Errorf("Expected data size 4, got %d", n)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/asr" || r.URL.Query().Get("language") != "fr" {
			t.Errorf("Unexpected request %s", r.URL.String())
		}
		file, _, err := r.FormFile("audio_file")
		if err != nil {
			t.Errorf("Missing audio_file: %v", err)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data[0:4]) != "RIFF" {
			t.Errorf("Expected wav upload")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" bonjour ","language":"fr"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL+"/", nil, WithLanguage("fr"))
	resp, err := c.Transcribe(context.Background(), []byte{0, 0, 1, 0}, 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if resp.Text != " bonjour " || resp.Language != "fr" {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestTranscribePlainTextAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("language") == "xx" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("plain words"))
	}))
	defer srv.Close()

	resp, err := NewWhisperClient(srv.URL, nil).Transcribe(context.Background(), []byte{0, 0}, 16000)
	if err != nil || resp.Text != "plain words" {
		t.Errorf("Expected plain text fallback, got %+v %v", resp, err)
	}
	if _, err := NewWhisperClient(srv.URL, nil, WithLanguage("xx")).Transcribe(context.Background(), []byte{0, 0}, 16000); err == nil {
		t.Errorf("Expected error for non-200 status")
	}
	if _, err := NewWhisperClient(srv.URL, nil).Transcribe(context.Background(), nil, 16000); err == nil {
		t.Errorf("Expected error for empty audio")
	}
}

type fakeStream struct{ closed int }

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

type fakeSource struct {
	onFrame capture.FrameFunc
	stream  *fakeStream
}

func (f *fakeSource) Open(ctx context.Context, c capture.Constraints, onFrame capture.FrameFunc) (capture.Stream, error) {
	f.onFrame = onFrame
	f.stream = &fakeStream{}
	return f.stream, nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*TranscriptionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &TranscriptionResponse{Text: " turn it up ", Language: "en"}, nil
}

func frame(v float32) []float32 {
	out := make([]float32, 1600)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRecognizerTranscribesUtterances(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTranscriber{}
	r := NewRecognizer(src, tr, vad.VADConfig{SampleRate: 16000, MinSpeechMs: 100, MinSilenceMs: 200, MaxSpeechMs: 5000}, 1600, nil)

	results := make(chan stt.Result, 4)
	if err := r.Start(context.Background(), func(res stt.Result) { results <- res }, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.onFrame(frame(0.3))
	src.onFrame(frame(0.3))
	src.onFrame(frame(0))
	src.onFrame(frame(0))

	select {
	case res := <-results:
		if !res.Final || res.Text != "turn it up" {
			t.Errorf("Unexpected result %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for transcription")
	}

	// speech still buffered at stop is flushed and delivered
	src.onFrame(frame(0.3))
	src.onFrame(frame(0.3))
	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	r.Wait()
	if len(results) != 1 {
		t.Errorf("Expected flushed utterance to be transcribed, got %d results", len(results))
	}
	if src.stream.closed != 1 {
		t.Errorf("Expected capture released")
	}
	src.onFrame(frame(0.3))
	if err := r.Stop(); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}
}

func TestRecognizerReportsErrors(t *testing.T) {
	src := &fakeSource{}
	tr := &fakeTranscriber{err: errors.New("asr down")}
	r := NewRecognizer(src, tr, vad.VADConfig{SampleRate: 16000, MinSpeechMs: 100, MinSilenceMs: 100, MaxSpeechMs: 5000}, 1600, nil)

	errs := make(chan error, 1)
	_ = r.Start(context.Background(), nil, func(err error) { errs <- err })
	src.onFrame(frame(0.3))
	src.onFrame(frame(0))
	select {
	case err := <-errs:
		if err.Error() != "asr down" {
			t.Errorf("Unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for error")
	}
	_ = r.Abort()
}
