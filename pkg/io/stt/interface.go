package stt

import (
	"context"
	"time"
)

// Result is one recognition hypothesis. Interim results may be revised;
// final results are not.
type Result struct {
	Text       string
	Final      bool
	Language   string
	Confidence float32
	At         time.Time
}

// Recognizer is a platform speech-to-text engine. Results and errors are
// delivered through the callbacks until Stop returns.
type Recognizer interface {
	Start(ctx context.Context, onResult func(Result), onError func(error)) error
	Stop() error
}
