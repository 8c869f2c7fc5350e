package whisper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/xpanvictor/agentcall/pkg/Logger"
	"github.com/xpanvictor/agentcall/pkg/io/capture"
	"github.com/xpanvictor/agentcall/pkg/io/stt"
	"github.com/xpanvictor/agentcall/pkg/io/stt/vad"
)

var errRecognizerRunning = errors.New("recognizer already running")

// Transcriber is satisfied by WhisperClient.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*TranscriptionResponse, error)
}

// Recognizer captures the microphone, cuts utterances on silence and
// transcribes each one.
type Recognizer struct {
	source      capture.Source
	transcriber Transcriber
	vadConfig   vad.VADConfig
	frameSize   int
	logger      *Logger.Logger

	mu     sync.Mutex
	stream capture.Stream
	seg    *vad.Segmenter
	jobs   chan []byte
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRecognizer(source capture.Source, transcriber Transcriber, vadConfig vad.VADConfig, frameSize int, logger *Logger.Logger) *Recognizer {
	if frameSize <= 0 {
		frameSize = 1600
	}
	if vadConfig.SampleRate <= 0 {
		vadConfig.SampleRate = 16000
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Recognizer{
		source:      source,
		transcriber: transcriber,
		vadConfig:   vadConfig,
		frameSize:   frameSize,
		logger:      logger.Named("recognizer"),
	}
}

// Start implements stt.Recognizer.
func (r *Recognizer) Start(ctx context.Context, onResult func(stt.Result), onError func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return errRecognizerRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	jobs := make(chan []byte, 4)
	seg := vad.NewSegmenter(r.vadConfig)

	stream, err := r.source.Open(runCtx, capture.Constraints{
		SampleRate:       int(r.vadConfig.SampleRate),
		Channels:         1,
		FrameSize:        r.frameSize,
		EchoCancellation: true,
		NoiseSuppression: true,
	}, func(frame []float32) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.seg != seg {
			return
		}
		if utt := seg.Feed(capture.FloatToPCM16(frame)); utt != nil {
			r.submit(jobs, utt)
		}
	})
	if err != nil {
		cancel()
		return err
	}

	r.stream = stream
	r.seg = seg
	r.jobs = jobs
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer cancel()
		r.work(runCtx, jobs, onResult, onError)
	}()
	return nil
}

// submit queues an utterance without blocking the capture callback.
// Callers hold r.mu.
func (r *Recognizer) submit(jobs chan []byte, utt []byte) {
	select {
	case jobs <- utt:
	default:
		r.logger.Warnf("transcription backlog full, dropping %d bytes", len(utt))
	}
}

func (r *Recognizer) work(ctx context.Context, jobs <-chan []byte, onResult func(stt.Result), onError func(error)) {
	defer r.wg.Done()
	for utt := range jobs {
		if ctx.Err() != nil {
			continue
		}
		resp, err := r.transcriber.Transcribe(ctx, utt, int(r.vadConfig.SampleRate))
		if ctx.Err() != nil {
			continue
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		text := strings.TrimSpace(resp.Text)
		if text == "" || onResult == nil {
			continue
		}
		onResult(stt.Result{Text: text, Final: true, Language: resp.Language, At: time.Now()})
	}
}

// Stop implements stt.Recognizer. It releases the microphone right away;
// speech buffered at stop time is still transcribed and delivered.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	stream := r.stream
	if stream == nil {
		r.mu.Unlock()
		return nil
	}
	if utt := r.seg.Flush(); utt != nil {
		r.submit(r.jobs, utt)
	}
	close(r.jobs)
	r.stream, r.seg, r.jobs, r.cancel = nil, nil, nil, nil
	r.mu.Unlock()

	return stream.Close()
}

// Abort stops capture and drops pending transcriptions.
func (r *Recognizer) Abort() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := r.Stop()
	r.wg.Wait()
	return err
}

// Wait blocks until queued transcriptions have been delivered.
func (r *Recognizer) Wait() {
	r.wg.Wait()
}
