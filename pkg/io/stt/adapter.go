package stt

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/xpanvictor/agentcall/pkg/Logger"
)

var ErrAlreadyListening = errors.New("speech capture already running")

// Callbacks receive recognized speech. Utterance gets finalized, trimmed,
// non-empty text; Interim is for display only.
type Callbacks struct {
	Utterance func(text string)
	Interim   func(text string)
	Error     func(err error)
}

// Adapter turns recognizer output into outbound user messages.
type Adapter struct {
	rec Recognizer
	cb  Callbacks
	log *Logger.Logger

	mu        sync.Mutex
	listening bool
	closed    bool
}

func NewAdapter(rec Recognizer, cb Callbacks, logger *Logger.Logger) *Adapter {
	if logger == nil {
		logger = Logger.Nop()
	}
	return &Adapter{rec: rec, cb: cb, log: logger.Named("stt")}
}

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("speech capture closed")
	}
	if a.listening {
		a.mu.Unlock()
		return ErrAlreadyListening
	}
	a.listening = true
	a.mu.Unlock()

	if err := a.rec.Start(ctx, a.handleResult, a.handleError); err != nil {
		a.mu.Lock()
		a.listening = false
		a.mu.Unlock()
		return err
	}
	a.log.Infof("speech capture started")
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Adapter) handleResult(r Result) {
	if a.isClosed() {
		return
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return
	}
	if !r.Final {
		if a.cb.Interim != nil && a.Listening() {
			a.cb.Interim(text)
		}
		return
	}
	a.log.Debugf("utterance: %q", text)
	if a.cb.Utterance != nil {
		a.cb.Utterance(text)
	}
}

func (a *Adapter) handleError(err error) {
	if a.isClosed() {
		return
	}
	a.log.Warnf("recognizer error: %v", err)
	if a.cb.Error != nil {
		a.cb.Error(err)
	}
}

// Stop ends listening. Final results for speech already captured are still
// forwarded. Safe to call when not listening.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if !a.listening {
		a.mu.Unlock()
		return nil
	}
	a.listening = false
	a.mu.Unlock()
	return a.rec.Stop()
}

// Close stops listening and discards anything still in flight.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Stop()
}

func (a *Adapter) Listening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listening
}
