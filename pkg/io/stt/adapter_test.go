package stt

import (
	"context"
	"errors"
	"testing"
)

type fakeRecognizer struct {
	onResult func(Result)
	onError  func(error)
	started  int
	stopped  int
	startErr error
}

func (f *fakeRecognizer) Start(ctx context.Context, onResult func(Result), onError func(error)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.onResult = onResult
	f.onError = onError
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.stopped++
	return nil
}

func TestAdapterForwardsFinalTrimmedText(t *testing.T) {
	rec := &fakeRecognizer{}
	var utterances, interims []string
	a := NewAdapter(rec, Callbacks{
		Utterance: func(s string) { utterances = append(utterances, s) },
		Interim:   func(s string) { interims = append(interims, s) },
	}, nil)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.onResult(Result{Text: "hel", Final: false})
	rec.onResult(Result{Text: "  hello there  ", Final: true})
	rec.onResult(Result{Text: "   ", Final: true})

	if len(utterances) != 1 || utterances[0] != "hello there" {
		t.Errorf("Expected one trimmed utterance, got %q", utterances)
	}
	if len(interims) != 1 || interims[0] != "hel" {
		t.Errorf("Expected one interim, got %q", interims)
	}
}

func TestAdapterStopAndClose(t *testing.T) {
	rec := &fakeRecognizer{}
	var utterances []string
	a := NewAdapter(rec, Callbacks{Utterance: func(s string) { utterances = append(utterances, s) }}, nil)

	_ = a.Start(context.Background())
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("Expected ErrAlreadyListening, got %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	_ = a.Stop()
	if rec.stopped != 1 {
		t.Errorf("Expected recognizer stopped once, got %d", rec.stopped)
	}

	// late final results from speech captured before stop still count
	rec.onResult(Result{Text: "late", Final: true})
	if len(utterances) != 1 {
		t.Errorf("Expected late final to be forwarded, got %q", utterances)
	}

	_ = a.Close()
	rec.onResult(Result{Text: "after close", Final: true})
	if len(utterances) != 1 {
		t.Errorf("Expected nothing forwarded after Close, got %q", utterances)
	}
}

func TestAdapterStartFailure(t *testing.T) {
	rec := &fakeRecognizer{startErr: errors.New("no mic")}
	a := NewAdapter(rec, Callbacks{}, nil)
	if err := a.Start(context.Background()); err == nil {
		t.Fatalf("Expected start error")
	}
	if a.Listening() {
		t.Errorf("Expected adapter not listening after failed start")
	}
}
