// Package runtime implements the Agent Runtime: the per-agent state
// machine that exclusively owns the Scheduler, Dispatcher and Multiplexer,
// and drives the main loop spec.md §4.6 describes, generalizing the
// teacher's AeaApi request/response loop (libp2p_node/aea/api.go) into an
// explicit, dependency-injected state machine instead of a package-scoped
// os.Args-driven singleton.
package runtime

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/aeaerr"
	"github.com/aea-network/aea/internal/connection"
	"github.com/aea-network/aea/internal/queue"
	"github.com/aea-network/aea/internal/scheduler"
	"github.com/aea-network/aea/internal/skill"
)

// State is the Agent Runtime's lifecycle, per spec.md §4.6.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// DefaultPeriod is the main loop's default tick period.
const DefaultPeriod = 50 * time.Millisecond

// DefaultMaxReactions bounds how many inbox envelopes are drained per tick.
const DefaultMaxReactions = 10

// Runtime is the per-agent state machine. It owns its Scheduler, Dispatcher
// and Multiplexer exclusively, per spec.md §4.2's ownership rule; nothing
// else in the process may call into them directly.
type Runtime struct {
	Period       time.Duration
	MaxReactions int

	scheduler   *scheduler.Scheduler
	dispatcher  *skill.Dispatcher
	multiplexer *connection.Multiplexer
	inbox       *queue.Envelope

	logger zerolog.Logger
	state  State

	stopCh chan struct{}
	doneCh chan struct{}
}

// New wires a Runtime around its three owned subsystems. Connections and
// skills must already have been registered on the Multiplexer/Dispatcher
// before Start is called.
func New(sched *scheduler.Scheduler, dispatcher *skill.Dispatcher, mux *connection.Multiplexer, inbox *queue.Envelope, logger zerolog.Logger) *Runtime {
	return &Runtime{
		Period:       DefaultPeriod,
		MaxReactions: DefaultMaxReactions,
		scheduler:    sched,
		dispatcher:   dispatcher,
		multiplexer:  mux,
		inbox:        inbox,
		logger:       logger.With().Str("package", "Runtime").Logger(),
		state:        StateStopped,
	}
}

func (r *Runtime) State() State { return r.state }

// Start brings up the Multiplexer (and thus every connection, including the
// ACN connection when wired), transitions to running, and begins the main
// loop in a background goroutine. It returns once startup has completed or
// failed; use Wait to block until the loop itself exits.
func (r *Runtime) Start(ctx context.Context) error {
	if r.state != StateStopped {
		return aeaerr.New(aeaerr.KindInternal, "runtime: Start called from state "+string(r.state))
	}
	r.state = StateStarting
	r.logger.Info().Msg("starting")

	if err := r.multiplexer.Connect(ctx); err != nil {
		r.state = StateStopped
		return aeaerr.Wrap(aeaerr.KindInternal, err, "while starting multiplexer")
	}

	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.state = StateRunning
	r.logger.Info().Msg("running")
	go r.loop(ctx)
	return nil
}

// Stop requests the main loop to exit and tears down the Multiplexer in
// reverse order of setup, per spec.md §4.6.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.state != StateRunning && r.state != StateError {
		return aeaerr.New(aeaerr.KindInternal, "runtime: Stop called from state "+string(r.state))
	}
	r.state = StateStopping
	r.logger.Info().Msg("stopping")
	close(r.stopCh)
	<-r.doneCh

	r.scheduler.Stop()
	err := r.multiplexer.Disconnect(ctx)
	r.state = StateStopped
	r.logger.Info().Msg("stopped")
	if err != nil {
		return aeaerr.Wrap(aeaerr.KindInternal, err, "while stopping multiplexer")
	}
	return nil
}

// Wait blocks until the main loop has exited (after Stop, or once the ctx
// passed to Start is cancelled).
func (r *Runtime) Wait() {
	if r.doneCh != nil {
		<-r.doneCh
	}
}

// loop is the main loop body, run once per Period until stopCh closes:
// advance due behaviors, drain up to MaxReactions inbound envelopes and
// dispatch them, then check for a stop signal, per spec.md §4.6.
func (r *Runtime) loop(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.Period)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scheduler.Tick(ctx)
			r.drainReactions(ctx)
		}
	}
}

func (r *Runtime) drainReactions(ctx context.Context) {
	for i := 0; i < r.MaxReactions; i++ {
		env, err := r.inbox.Get(0)
		if err != nil {
			return
		}
		r.dispatcher.Dispatch(ctx, env)
	}
}
