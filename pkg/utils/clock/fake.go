package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock. Scheduled functions run on the
// goroutine calling Advance or FireNext.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *Fake
	id      int
	at      time.Time
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := &fakeTimer{clock: f, id: f.nextID, at: f.now.Add(d), delay: d, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Pending returns the delays of timers that have neither fired nor been
// stopped, in scheduling order.
func (f *Fake) Pending() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, t := range f.timers {
		if !t.stopped && !t.fired {
			out = append(out, t.delay)
		}
	}
	return out
}

// Advance moves the clock forward and runs every timer that became due,
// earliest first.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	due := f.collectDue()
	f.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

// FireNext jumps to the earliest pending timer and runs it. It reports
// false when nothing is pending.
func (f *Fake) FireNext() bool {
	f.mu.Lock()
	var next *fakeTimer
	for _, t := range f.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	if next == nil {
		f.mu.Unlock()
		return false
	}
	if next.at.After(f.now) {
		f.now = next.at
	}
	next.fired = true
	f.mu.Unlock()

	next.fn()
	return true
}

func (f *Fake) collectDue() []*fakeTimer {
	var due []*fakeTimer
	for _, t := range f.timers {
		if !t.stopped && !t.fired && !t.at.After(f.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	return due
}
