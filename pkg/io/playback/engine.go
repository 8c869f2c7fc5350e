package playback

import (
	"errors"
	"sync"

	"github.com/xpanvictor/agentcall/pkg/Logger"
)

var ErrDisabled = errors.New("audio output disabled")

// Output is the sound device. Play starts a buffer in the stream slot and
// calls done exactly once when it finishes. PlayClip uses a separate slot
// that does not interact with the stream.
type Output interface {
	Play(b Buffer, done func()) error
	PlayClip(b Buffer) error
}

// Stopper is implemented by outputs that can cut both slots short. The done
// callback of a stopped buffer is never called.
type Stopper interface {
	Stop()
}

type Stats struct {
	Queued   int    `json:"queued"`
	Played   uint64 `json:"played"`
	Clips    uint64 `json:"clips"`
	Rejected uint64 `json:"rejected"`
	Invalid  uint64 `json:"invalid"`
}

// Engine plays streamed chunks one after another and one-shot clips
// immediately.
type Engine struct {
	out   Output
	queue Queue
	log   *Logger.Logger

	mu      sync.Mutex
	enabled bool
	playing bool
	token   uint64
	stats   Stats
}

func NewEngine(out Output, queue Queue, enabled bool, logger *Logger.Logger) *Engine {
	if queue == nil {
		queue = NewQueue(DefaultQueueCapacity)
	}
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Engine{out: out, queue: queue, enabled: enabled, log: logger.Named("playback")}
}

// PlayClip decodes a complete clip and starts it right away.
func (e *Engine) PlayClip(payload string) error {
	e.mu.Lock()
	if !e.enabled {
		e.stats.Rejected++
		e.mu.Unlock()
		return ErrDisabled
	}
	e.mu.Unlock()

	buf, err := Decode(payload)
	if err != nil {
		e.countInvalid()
		e.log.Warnf("dropping clip: %v", err)
		return err
	}
	if err := e.out.PlayClip(buf); err != nil {
		e.log.Warnf("clip playback failed: %v", err)
		return err
	}
	e.mu.Lock()
	e.stats.Clips++
	e.mu.Unlock()
	return nil
}

// EnqueueChunk decodes a streamed chunk and queues it, starting playback
// when idle.
func (e *Engine) EnqueueChunk(payload string) error {
	e.mu.Lock()
	if !e.enabled {
		e.stats.Rejected++
		e.mu.Unlock()
		return ErrDisabled
	}
	e.mu.Unlock()

	buf, err := Decode(payload)
	if err != nil {
		e.countInvalid()
		e.log.Warnf("dropping chunk: %v", err)
		return err
	}

	e.mu.Lock()
	// re-check: output may have been muted while decoding
	if !e.enabled {
		e.stats.Rejected++
		e.mu.Unlock()
		return ErrDisabled
	}
	if err := e.queue.Enqueue(buf); err != nil {
		if errors.Is(err, ErrQueueFull) {
			e.stats.Rejected++
		} else {
			e.stats.Invalid++
		}
		e.mu.Unlock()
		e.log.Warnf("dropping chunk: %v", err)
		return err
	}
	start := !e.playing
	if start {
		e.playing = true
	}
	e.mu.Unlock()

	if start {
		e.playNext()
	}
	return nil
}

func (e *Engine) playNext() {
	for {
		e.mu.Lock()
		buf, ok := e.queue.Dequeue()
		if !ok {
			e.playing = false
			e.mu.Unlock()
			return
		}
		e.playing = true
		e.token++
		token := e.token
		e.mu.Unlock()

		err := e.out.Play(buf, func() { e.finished(token) })
		if err == nil {
			return
		}
		e.log.Warnf("chunk playback failed: %v", err)
	}
}

func (e *Engine) finished(token uint64) {
	e.mu.Lock()
	if token != e.token || !e.playing {
		e.mu.Unlock()
		return
	}
	e.stats.Played++
	e.token++
	e.mu.Unlock()
	e.playNext()
}

// SetEnabled toggles audio output. Disabling empties the queue and rejects
// further chunks and clips; audio already on the device keeps playing.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
	if !enabled {
		e.Clear()
	}
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Clear drops every queued buffer.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.Reset()
}

// Stop drops every queued buffer and silences the device. Completions of
// the buffer that was playing are ignored, so the next chunk starts at once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.queue.Reset()
	e.playing = false
	e.token++
	e.mu.Unlock()
	if s, ok := e.out.(Stopper); ok {
		s.Stop()
	}
}

// Playing reports whether a streamed buffer is on the device.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	st.Queued = e.queue.Len()
	return st
}

func (e *Engine) countInvalid() {
	e.mu.Lock()
	e.stats.Invalid++
	e.mu.Unlock()
}
