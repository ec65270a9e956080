// Package aeaerr defines the cross-cutting error kinds shared by the agent
// runtime and the ACN peer.
package aeaerr

import "github.com/pkg/errors"

// Kind identifies one of the cross-cutting error categories.
type Kind string

const (
	KindConfig             Kind = "config_error"
	KindDecoding           Kind = "decoding_error"
	KindUnsupportedProto   Kind = "unsupported_protocol"
	KindNoActiveHandler    Kind = "no_active_handler"
	KindRouting            Kind = "routing_error"
	KindTimeout            Kind = "timeout_error"
	KindAgentNotFound      Kind = "agent_not_found"
	KindAgentNotReady      Kind = "agent_not_ready"
	KindInvalidPoR         Kind = "invalid_por"
	KindNotRunning         Kind = "not_running"
	KindInternal           Kind = "internal_error"
	KindDuplicateTransition Kind = "duplicate_transition"
)

// Error wraps an underlying cause with one of the Kind values above so
// callers can classify it with errors.As without losing the pkg/errors
// stack trace attached at the point it was first wrapped.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds a *Error of the given kind from a message, with a stack trace.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// Wrap builds a *Error of the given kind around an existing error, with a
// stack trace attached at this call site.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
