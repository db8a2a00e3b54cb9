package clock

import (
	"context"
	"sync"
	"time"
)

// Clock supplies millisecond timestamps and absolute sleeps.
type Clock interface {
	NowMS() int64
	SleepUntil(ctx context.Context, ms int64) error
}

// Monotonic counts milliseconds since it was created using the runtime's
// monotonic clock reading.
type Monotonic struct {
	epoch time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

func (m *Monotonic) NowMS() int64 {
	return time.Since(m.epoch).Milliseconds()
}

// SleepUntil blocks until the clock reads at least ms or ctx is done.
func (m *Monotonic) SleepUntil(ctx context.Context, ms int64) error {
	wait := time.Until(m.epoch.Add(time.Duration(ms) * time.Millisecond))
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Manual is a clock that only moves when told to. SleepUntil jumps straight to
// the target, which makes periodic loops deterministic in tests.
type Manual struct {
	mu  sync.Mutex
	now int64
}

func NewManual(start int64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) NowMS() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

func (m *Manual) Advance(ms int64) {
	m.mu.Lock()
	m.now += ms
	m.mu.Unlock()
}

func (m *Manual) SleepUntil(ctx context.Context, ms int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if ms > m.now {
		m.now = ms
	}
	m.mu.Unlock()
	return nil
}
