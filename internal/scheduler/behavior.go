// Package scheduler implements the Periodic Scheduler: a single
// monotonic-clock-driven cooperative scheduler over Ticker, One-shot,
// Cyclic, Sequence and Finite-state-machine behaviors, generalizing the
// teacher's retry/backoff timing idiom (aealite/connections/p2pclient.go's
// register_with_retry, which drives delay purely off an injected
// time.Duration rather than a wall-clock read) into a reusable registry of
// periodic tasks the Agent Runtime advances once per loop iteration. No
// pack example implements this bespoke cooperative-behavior model, so it is
// built directly on time.Time/time.Duration the way the teacher itself
// always has, rather than adopting a cron-expression library (robfig/cron
// and friends solve calendar scheduling, not no-overlap drop-counting
// Ticker/Cyclic/FSM behaviors).
package scheduler

import (
	"context"
	"time"
)

// Behavior is a registrable scheduler task, per spec.md §4.4.
type Behavior interface {
	// Due reports whether the behavior should run at now.
	Due(now time.Time) bool
	// Deadline is used only to order same-tick behaviors; behaviors with no
	// meaningful deadline (One-shot, Cyclic) return the zero time, which
	// sorts first and then falls back to registration order. Sequence and
	// FSM report the deadline of their current step.
	Deadline() time.Time
	// Run executes one invocation. Errors are logged by the scheduler and
	// never stop it; only the Agent Runtime's own `propagate` policy does.
	Run(ctx context.Context) error
	// Done reports whether the behavior has finished and should be
	// deregistered.
	Done() bool
}

// missTracker is implemented by behaviors (Ticker) that need to know about
// a tick they were due for but skipped, so they can count it.
type missTracker interface {
	checkMissed(now time.Time)
}

// Clock abstracts "now" so tests can drive the scheduler deterministically
// without depending on bou.ke/monkey-style time-function patching (unused
// by this tree; see the module's design notes for why).
type Clock func() time.Time
