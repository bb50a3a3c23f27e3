package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually advanced clock for tests.
//
// Sleep returns immediately after advancing the fake time, so retry loops
// run at full speed while still observing deterministic "elapsed" time.
type Fake struct {
	mu  sync.Mutex
	now time.Time

	// OnSleep, if set, observes every Sleep call (after the advance).
	OnSleep func(d time.Duration)
}

func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		f.Advance(d)
	}
	if f.OnSleep != nil {
		f.OnSleep(d)
	}
	return nil
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
