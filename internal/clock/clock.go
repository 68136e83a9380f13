package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to every component with temporal logic.
// Injecting it instead of calling time.Now in place keeps the sweep and
// quota boundary conditions testable.
type Clock interface {
	Now() time.Time
}

// Real is the production clock. All times are UTC.
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed is a settable clock for tests.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now.UTC()}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now.UTC()
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
