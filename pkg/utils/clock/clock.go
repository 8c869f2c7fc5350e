package clock

import "time"

// Timer is the handle returned by AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts deferred execution so reconnect backoff and keepalives
// can be driven manually in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// System returns the wall clock.
func System() Clock {
	return systemClock{}
}
