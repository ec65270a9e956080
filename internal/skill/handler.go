// Package skill implements the Skill Dispatcher: the 4-step inbound
// pipeline (resolve protocol -> decode -> look up handlers -> invoke), a
// configurable error handler that never raises, and the Skill bundle
// (handlers + behaviors + shared state) that a runtime registers connections
// and behaviors through, generalizing the teacher's handler-dispatch style
// from libp2p_node/dht/common/handlers.go (protocol-keyed stream handler
// registration) into the in-process dispatch pipeline spec.md §4.5
// describes.
package skill

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/aeaerr"
	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
)

// Handler processes one decoded inbound message.
type Handler func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error

// ErrorReason labels why an envelope reached the error handler instead of a
// regular Handler, per spec.md §4.5.
type ErrorReason string

const (
	ReasonUnsupportedProtocol ErrorReason = "unsupported_protocol"
	ReasonDecodingError       ErrorReason = "decoding_error"
	ReasonNoActiveHandler     ErrorReason = "no_active_handler"
	ReasonHandlerError        ErrorReason = "handler_error"
)

// ErrorHandler transforms a failed envelope into a reply; it must never
// itself raise an error up to the dispatcher; any failure it experiences is
// logged and dropped, per spec.md §4.5.
type ErrorHandler func(ctx context.Context, env *protocol.Envelope, reason ErrorReason, cause error)

// DefaultProtocolID is the protocol the error handler replies on.
var DefaultProtocolID = protocol.ProtocolID{Author: "fetchai", Name: "default", Version: "1.0.0"}

// Skill bundles a set of protocol handlers, the behaviors it registers with
// the scheduler, and whatever shared state they close over, matching the
// teacher's convention of a handler module owning its own state rather than
// reaching into globals.
type Skill struct {
	Name     string
	Handlers map[string][]Handler // keyed by protocol.ProtocolID.String()
}

// NewSkill returns an empty, named Skill ready to have handlers registered.
func NewSkill(name string) *Skill {
	return &Skill{Name: name, Handlers: make(map[string][]Handler)}
}

// RegisterHandler adds a Handler for protocolID. Multiple handlers may be
// registered for the same protocol id; all are invoked, per spec.md §4.5
// step 4.
func (s *Skill) RegisterHandler(protocolID protocol.ProtocolID, h Handler) {
	key := protocolID.String()
	s.Handlers[key] = append(s.Handlers[key], h)
}

// Dispatcher implements the 4-step inbound pipeline. It owns no connections
// and no scheduler state; the Agent Runtime drains the Inbox and calls
// Dispatch once per drained envelope.
type Dispatcher struct {
	registry     *protocol.Registry
	skills       []*Skill
	errorHandler ErrorHandler
	logger       zerolog.Logger
}

// NewDispatcher wires a protocol Registry and an ErrorHandler (falling back
// to LogAndDropErrorHandler if nil) into a Dispatcher.
func NewDispatcher(registry *protocol.Registry, errorHandler ErrorHandler, logger zerolog.Logger) *Dispatcher {
	if errorHandler == nil {
		errorHandler = LogAndDropErrorHandler(logger)
	}
	return &Dispatcher{
		registry:     registry,
		errorHandler: errorHandler,
		logger:       logger.With().Str("package", "Dispatcher").Logger(),
	}
}

// AddSkill registers a Skill's handlers with the dispatcher.
func (d *Dispatcher) AddSkill(s *Skill) { d.skills = append(d.skills, s) }

// Dispatch runs the 4-step pipeline described in spec.md §4.5 for one
// inbound envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, env *protocol.Envelope) {
	codec, err := d.registry.Lookup(env.ProtocolID)
	if err != nil {
		d.errorHandler(ctx, env, ReasonUnsupportedProtocol, err)
		return
	}

	message, err := codec.Decode(env.Message)
	if err != nil {
		d.errorHandler(ctx, env, ReasonDecodingError, aeaerr.Wrap(aeaerr.KindDecoding, err, "while decoding envelope message"))
		return
	}

	handlers := d.handlersFor(env.ProtocolID)
	if len(handlers) == 0 {
		d.errorHandler(ctx, env, ReasonNoActiveHandler, aeaerr.New(aeaerr.KindNoActiveHandler, "no handler registered for "+env.ProtocolID.String()))
		return
	}

	for _, h := range handlers {
		if err := h(ctx, env, message); err != nil {
			d.logger.Error().Str("protocol", env.ProtocolID.String()).Str("err", err.Error()).Msg("handler returned an error")
			d.errorHandler(ctx, env, ReasonHandlerError, err)
		}
	}
}

func (d *Dispatcher) handlersFor(protocolID protocol.ProtocolID) []Handler {
	var out []Handler
	key := protocolID.String()
	for _, s := range d.skills {
		out = append(out, s.Handlers[key]...)
	}
	return out
}

// LogAndDropErrorHandler is the default ErrorHandler: it logs the reason
// and drops the envelope without replying, matching spec.md §4.5's
// "log and drop if themselves failing" fallback behavior.
func LogAndDropErrorHandler(logger zerolog.Logger) ErrorHandler {
	l := logger.With().Str("package", "ErrorHandler").Logger()
	return func(_ context.Context, env *protocol.Envelope, reason ErrorReason, cause error) {
		event := l.Warn().Str("reason", string(reason)).Str("to", env.To).Str("sender", env.Sender)
		if cause != nil {
			event = event.Str("cause", cause.Error())
		}
		event.Msg("dropping envelope")
	}
}

// ReplyErrorHandler echoes the original envelope's metadata back to its
// sender on DefaultProtocolID, carrying the failure reason as the message
// body, per spec.md §4.5.
func ReplyErrorHandler(outbox *queue.Outbox, logger zerolog.Logger) ErrorHandler {
	l := logger.With().Str("package", "ErrorHandler").Logger()
	return func(ctx context.Context, env *protocol.Envelope, reason ErrorReason, cause error) {
		body := string(reason)
		if cause != nil {
			body += ": " + cause.Error()
		}
		err := outbox.PutMessage(ctx, env.Sender, DefaultProtocolID, []byte(body), protocol.Context{})
		if err != nil {
			l.Error().Str("err", err.Error()).Msg("error handler itself failed to enqueue a reply, dropping")
		}
	}
}
