package scheduler

import (
	"context"
	"sync"
	"time"
)

// OneShot fires exactly once, then reports Done.
type OneShot struct {
	Action func(ctx context.Context) error

	mu    sync.Mutex
	fired bool
	done  bool
}

func NewOneShot(action func(ctx context.Context) error) *OneShot {
	return &OneShot{Action: action}
}

func (o *OneShot) Due(time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.fired
}

func (o *OneShot) Deadline() time.Time { return time.Time{} }

func (o *OneShot) Run(ctx context.Context) error {
	o.mu.Lock()
	o.fired = true
	o.mu.Unlock()
	err := o.Action(ctx)
	o.mu.Lock()
	o.done = true
	o.mu.Unlock()
	return err
}

func (o *OneShot) Done() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Cyclic runs continuously; IsDone is polled by the scheduler after each
// invocation to decide whether to deregister it.
type Cyclic struct {
	Action func(ctx context.Context) error
	IsDone func() bool
}

func NewCyclic(action func(ctx context.Context) error, isDone func() bool) *Cyclic {
	return &Cyclic{Action: action, IsDone: isDone}
}

func (c *Cyclic) Due(time.Time) bool        { return !c.Done() }
func (c *Cyclic) Deadline() time.Time       { return time.Time{} }
func (c *Cyclic) Run(ctx context.Context) error { return c.Action(ctx) }
func (c *Cyclic) Done() bool {
	if c.IsDone == nil {
		return false
	}
	return c.IsDone()
}
