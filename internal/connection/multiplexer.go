package connection

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/aeaerr"
	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
)

// State is the Multiplexer's own lifecycle, per spec.md §4.3.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// connectionEntry bundles a Connection with its exception policy.
type connectionEntry struct {
	conn   Connection
	policy ExceptionPolicy
}

// Multiplexer owns a set of named Connections, fans inbound envelopes into
// a shared Inbox, and fans outbound envelopes from a shared Outbox out to
// the connection selected by the routing rule. It generalizes the
// teacher's single-connection P2PClientApi send/receive loops
// (listen_for_envelopes, write_envelope) into a multi-connection router, as
// spec.md §4.3 requires and the teacher's own code (scoped to exactly one
// ACN connection) never needed to.
type Multiplexer struct {
	mu              sync.RWMutex
	connections     map[string]*connectionEntry
	defaultConn     string
	defaultRouting  map[string]string // protocol id -> connection name
	inbox           *queue.Envelope
	outbox          *queue.Outbox
	logger          zerolog.Logger
	state           State
	stopSendLoop    context.CancelFunc
	wg              sync.WaitGroup
	errHandler      func(connectionID string, err error)
}

// NewMultiplexer constructs a Multiplexer around an already-created Inbox
// and Outbox (owned by the Runtime, per spec.md §4.2's ownership rule).
func NewMultiplexer(inbox *queue.Envelope, outbox *queue.Outbox, logger zerolog.Logger) *Multiplexer {
	return &Multiplexer{
		connections:    make(map[string]*connectionEntry),
		defaultRouting: make(map[string]string),
		inbox:          inbox,
		outbox:         outbox,
		logger:         logger.With().Str("package", "Multiplexer").Logger(),
		state:          StateDisconnected,
	}
}

// AddConnection registers a connection under its own ID with an exception
// policy; the first connection added becomes the default connection unless
// SetDefaultConnection is called explicitly.
func (m *Multiplexer) AddConnection(conn Connection, policy ExceptionPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[conn.ID()] = &connectionEntry{conn: conn, policy: policy}
	if m.defaultConn == "" {
		m.defaultConn = conn.ID()
	}
}

// SetDefaultConnection overrides which connection is used when no routing
// rule matches.
func (m *Multiplexer) SetDefaultConnection(id string) { m.defaultConn = id }

// SetDefaultRouting registers the connection used for every envelope of a
// given protocol id, per spec.md §4.3 routing rule step 2.
func (m *Multiplexer) SetDefaultRouting(protocolID, connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultRouting[protocolID] = connectionID
}

// OnError installs a hook invoked whenever a connection's receive or send
// loop errors, regardless of the policy applied; useful for metrics.
func (m *Multiplexer) OnError(fn func(connectionID string, err error)) { m.errHandler = fn }

// Connect brings up every registered connection and starts their
// receive/send loops. Connections are brought up one at a time, each
// getting its own receive loop once connected; the first connection that
// fails to connect aborts Connect.
func (m *Multiplexer) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateConnecting
	entries := make([]*connectionEntry, 0, len(m.connections))
	for _, e := range m.connections {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	m.stopSendLoop = cancel

	for _, e := range entries {
		if err := e.conn.Connect(ctx); err != nil {
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			return aeaerr.Wrap(aeaerr.KindInternal, err, "while connecting "+e.conn.ID())
		}
		m.wg.Add(1)
		go m.receiveLoop(loopCtx, e)
	}
	m.wg.Add(1)
	go m.dispatchLoop(loopCtx)

	m.mu.Lock()
	m.state = StateConnected
	m.mu.Unlock()
	return nil
}

// Disconnect stops every receive/send loop and tears down every connection.
func (m *Multiplexer) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.state = StateDisconnecting
	entries := make([]*connectionEntry, 0, len(m.connections))
	for _, e := range m.connections {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	if m.stopSendLoop != nil {
		m.stopSendLoop()
	}
	m.wg.Wait()

	var firstErr error
	for _, e := range entries {
		if err := e.conn.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	return firstErr
}

func (m *Multiplexer) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// route implements spec.md §4.3's 4-step outbound routing rule.
func (m *Multiplexer) route(env *protocol.Envelope) (*connectionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if env.Context.ConnectionID != "" {
		if e, ok := m.connections[env.Context.ConnectionID]; ok {
			return e, nil
		}
	}
	if id, ok := m.defaultRouting[env.ProtocolID.String()]; ok {
		if e, ok := m.connections[id]; ok {
			return e, nil
		}
	}
	if m.defaultConn != "" {
		if e, ok := m.connections[m.defaultConn]; ok {
			return e, nil
		}
	}
	return nil, aeaerr.New(aeaerr.KindRouting, "no connection could be resolved for envelope to "+env.To)
}

// dispatchLoop is the single reader of the shared Outbox: it pulls each
// outbound envelope, resolves its target connection via the routing rule,
// and transmits it. A single dispatcher (rather than one reader per
// connection) keeps outbound envelopes in FIFO order and avoids the
// connections fighting over the same queue.
func (m *Multiplexer) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		env, err := m.outbox.Get(50 * time.Millisecond)
		if err != nil {
			continue
		}
		target, err := m.route(env)
		if err != nil {
			m.logger.Error().Str("err", err.Error()).Msg("routing error, dropping envelope")
			continue
		}
		if err := target.conn.Send(ctx, env); err != nil {
			m.handleError(ctx, target, err)
		}
	}
}

// receiveLoop pulls inbound envelopes off a connection and pushes them into
// the shared Inbox, applying the entry's exception policy on failure.
func (m *Multiplexer) receiveLoop(ctx context.Context, entry *connectionEntry) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		env, err := entry.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !m.handleError(ctx, entry, err) {
				return
			}
			continue
		}
		if env == nil {
			continue
		}
		if err := m.inbox.Put(ctx, env); err != nil {
			m.logger.Error().Str("err", err.Error()).Msg("while enqueueing inbound envelope")
		}
	}
}

// handleError applies a connection's exception policy, per spec.md §4.3.
// It returns false when the caller's loop should exit (stop_and_exit or
// propagate).
func (m *Multiplexer) handleError(ctx context.Context, entry *connectionEntry, err error) bool {
	if m.errHandler != nil {
		m.errHandler(entry.conn.ID(), err)
	}
	switch entry.policy {
	case PolicyPropagate:
		m.logger.Error().Str("connection", entry.conn.ID()).Str("err", err.Error()).Msg("propagating connection error, disconnecting multiplexer")
		go func() { _ = m.Disconnect(ctx) }()
		return false
	case PolicyStopAndExit:
		m.logger.Error().Str("connection", entry.conn.ID()).Str("err", err.Error()).Msg("detaching failing connection")
		m.mu.Lock()
		delete(m.connections, entry.conn.ID())
		m.mu.Unlock()
		return false
	default: // PolicyJustLog
		m.logger.Warn().Str("connection", entry.conn.ID()).Str("err", err.Error()).Msg("connection error, retrying")
		// Pause for a jittered backoff before the caller's loop tries again.
		delay := defaultDelayType(0, &retryConfig{delay: 200 * time.Millisecond, maxJitter: 100 * time.Millisecond})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return true
	}
}
