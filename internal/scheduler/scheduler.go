package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type entry struct {
	name     string
	behavior Behavior
	order    int
	timeout  time.Duration
}

// Scheduler holds every registered Behavior and advances them once per
// Tick call, driven by a single monotonic clock. Ordering within one tick
// is: all behaviors whose deadline <= now, sorted by ascending deadline,
// ties broken by registration order, per spec.md §4.4. The Agent Runtime
// owns the Scheduler exclusively and calls Tick once per loop iteration.
type Scheduler struct {
	mu        sync.Mutex
	behaviors []*entry
	nextOrder int
	now       Clock
	logger    zerolog.Logger
	stopped   bool
}

// New returns a Scheduler using now as its clock (time.Now in production;
// an injectable function in tests, replacing the teacher's go.mod-only,
// never-imported bou.ke/monkey dependency).
func New(now Clock, logger zerolog.Logger) *Scheduler {
	return &Scheduler{now: now, logger: logger.With().Str("package", "Scheduler").Logger()}
}

// Register adds a behavior under name for logging/inspection.
func (s *Scheduler) Register(name string, behavior Behavior) {
	s.RegisterWithTimeout(name, behavior, 0)
}

// RegisterWithTimeout adds a behavior whose Run is aborted (for accounting
// and logging purposes; Go cannot forcibly kill a running goroutine) if it
// runs longer than timeout. A zero timeout disables this, per spec.md
// §4.6's "handler execution 0 (disabled) or configured" default.
func (s *Scheduler) RegisterWithTimeout(name string, behavior Behavior, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors = append(s.behaviors, &entry{name: name, behavior: behavior, order: s.nextOrder, timeout: timeout})
	s.nextOrder++
}

// Stop sets the cooperative-cancellation flag; Tick becomes a no-op after
// this. Long-running Action funcs are still expected to observe ctx
// cancellation themselves between yieldable units, per spec.md §4.4.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Tick runs every due behavior once, in ascending-deadline/registration
// order, synchronously with respect to each other (matching the teacher's
// single-threaded cooperative style); it returns once all of them have
// completed this round.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	now := s.now()
	due := make([]*entry, 0, len(s.behaviors))
	var kept []*entry
	for _, e := range s.behaviors {
		if e.behavior.Done() {
			continue // deregister finished behaviors
		}
		if e.behavior.Due(now) {
			due = append(due, e)
		} else if mt, ok := e.behavior.(missTracker); ok {
			mt.checkMissed(now)
		}
		kept = append(kept, e)
	}
	s.behaviors = kept
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		di, dj := due[i].behavior.Deadline(), due[j].behavior.Deadline()
		if di.Equal(dj) {
			return due[i].order < due[j].order
		}
		return di.Before(dj)
	})

	for _, e := range due {
		s.runOne(ctx, e)
	}
}

// runOne runs a single behavior, respecting its execution_timeout if set.
func (s *Scheduler) runOne(ctx context.Context, e *entry) {
	if e.timeout <= 0 {
		if err := e.behavior.Run(ctx); err != nil {
			s.logger.Error().Str("behavior", e.name).Str("err", err.Error()).Msg("behavior returned an error")
		}
		return
	}

	done := make(chan error, 1)
	go func() { done <- e.behavior.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			s.logger.Error().Str("behavior", e.name).Str("err", err.Error()).Msg("behavior returned an error")
		}
	case <-time.After(e.timeout):
		s.logger.Warn().Str("behavior", e.name).Dur("timeout", e.timeout).Msg("behavior exceeded execution_timeout, aborting")
	}
}

// Len reports how many behaviors are still registered (useful for tests and
// monitoring gauges).
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.behaviors)
}
