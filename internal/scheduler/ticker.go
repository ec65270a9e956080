package scheduler

import (
	"context"
	"sync"
	"time"
)

// Ticker fires every Interval starting at StartAt (or immediately if zero).
// It never overlaps itself: if the previous invocation is still running
// when the next tick comes due, that tick is dropped and counted rather
// than queued, per spec.md §4.4.
type Ticker struct {
	Interval time.Duration
	Action   func(ctx context.Context) error

	mu           sync.Mutex
	nextDeadline time.Time
	running      bool
	dropped      int
}

// NewTicker returns a Ticker whose first deadline is startAt, or the
// construction time if startAt is the zero value.
func NewTicker(interval time.Duration, startAt time.Time, action func(ctx context.Context) error) *Ticker {
	if startAt.IsZero() {
		startAt = time.Now()
	}
	return &Ticker{Interval: interval, Action: action, nextDeadline: startAt}
}

func (t *Ticker) Due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	return !now.Before(t.nextDeadline)
}

func (t *Ticker) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextDeadline
}

func (t *Ticker) Done() bool { return false }

// Run executes Action once, then advances the next deadline by Interval
// regardless of how long Action took (so a slow invocation shortens, never
// lengthens, the effective gap before the next due tick).
func (t *Ticker) Run(ctx context.Context) error {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	err := t.Action(ctx)

	t.mu.Lock()
	t.running = false
	t.nextDeadline = t.nextDeadline.Add(t.Interval)
	t.mu.Unlock()
	return err
}

// checkMissed records a dropped tick when the scheduler finds this Ticker
// already running at its own deadline, and advances past the missed
// window so the next tick check doesn't immediately re-trigger.
func (t *Ticker) checkMissed(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running && !now.Before(t.nextDeadline) {
		t.dropped++
		t.nextDeadline = t.nextDeadline.Add(t.Interval)
	}
}

// Dropped returns the number of ticks skipped due to overlap so far.
func (t *Ticker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
