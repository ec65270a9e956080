package queue

import (
	"context"
	"time"

	"github.com/aea-network/aea/internal/protocol"
)

// Outbox is the agent-loop-facing side of the Envelope queue: handlers push
// fully-formed envelopes, or a (message, context) pair that this type turns
// into an envelope stamped with the sender's current identity.
type Outbox struct {
	*Envelope
	senderAddress func() protocol.Address
}

// NewOutbox returns an Outbox whose PutMessage calls stamp the sender field
// with whatever senderAddress() currently returns (the identity may rotate
// under multi-ledger configurations, so it is resolved lazily per call
// rather than captured once).
func NewOutbox(capacity int, senderAddress func() protocol.Address) *Outbox {
	return &Outbox{Envelope: New(capacity), senderAddress: senderAddress}
}

// PutMessage constructs an envelope addressed `to`, carrying the encoded
// message bytes for protocolID, and enqueues it.
func (o *Outbox) PutMessage(ctx context.Context, to protocol.Address, protocolID protocol.ProtocolID, message []byte, routing protocol.Context) error {
	env := &protocol.Envelope{
		To:         to,
		Sender:     o.senderAddress(),
		ProtocolID: protocolID,
		Message:    message,
		Context:    routing,
	}
	return o.Put(ctx, env)
}

// PutMessageTimeout is PutMessage with a bounded wait instead of a context.
func (o *Outbox) PutMessageTimeout(to protocol.Address, protocolID protocol.ProtocolID, message []byte, routing protocol.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return o.PutMessage(ctx, to, protocolID, message, routing)
}
