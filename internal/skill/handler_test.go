package skill

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
)

type echoMessage struct{ body string }

func (m *echoMessage) Performative() string { return "echo" }

func echoCodec() *protocol.Codec {
	return &protocol.Codec{
		Decode: func(data []byte) (protocol.Message, error) { return &echoMessage{body: string(data)}, nil },
		Encode: func(m protocol.Message) ([]byte, error) { return []byte(m.(*echoMessage).body), nil },
	}
}

func envelopeFor(protocolID protocol.ProtocolID) *protocol.Envelope {
	return &protocol.Envelope{
		To:         "fetch1me",
		Sender:     "fetch1them",
		ProtocolID: protocolID,
		Message:    []byte("hello"),
	}
}

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	echoID := protocol.ProtocolID{Author: "fetchai", Name: "echo", Version: "0.1.0"}
	registry := protocol.NewRegistry()
	registry.Register(echoID, echoCodec())

	d := NewDispatcher(registry, nil, zerolog.Nop())
	var got string
	s := NewSkill("echo-skill")
	s.RegisterHandler(echoID, func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error {
		got = message.(*echoMessage).body
		return nil
	})
	d.AddSkill(s)

	d.Dispatch(context.Background(), envelopeFor(echoID))
	if got != "hello" {
		t.Fatalf("handler was not invoked as expected, got %q", got)
	}
}

func TestDispatchUnsupportedProtocolGoesToErrorHandler(t *testing.T) {
	registry := protocol.NewRegistry()
	var reason ErrorReason
	d := NewDispatcher(registry, func(ctx context.Context, env *protocol.Envelope, r ErrorReason, cause error) {
		reason = r
	}, zerolog.Nop())

	unknownID := protocol.ProtocolID{Author: "fetchai", Name: "unknown", Version: "0.1.0"}
	d.Dispatch(context.Background(), envelopeFor(unknownID))

	if reason != ReasonUnsupportedProtocol {
		t.Fatalf("expected unsupported_protocol, got %q", reason)
	}
}

func TestDispatchNoHandlerGoesToErrorHandler(t *testing.T) {
	echoID := protocol.ProtocolID{Author: "fetchai", Name: "echo", Version: "0.1.0"}
	registry := protocol.NewRegistry()
	registry.Register(echoID, echoCodec())

	var reason ErrorReason
	d := NewDispatcher(registry, func(ctx context.Context, env *protocol.Envelope, r ErrorReason, cause error) {
		reason = r
	}, zerolog.Nop())

	d.Dispatch(context.Background(), envelopeFor(echoID))
	if reason != ReasonNoActiveHandler {
		t.Fatalf("expected no_active_handler, got %q", reason)
	}
}

func TestReplyErrorHandlerEnqueuesReply(t *testing.T) {
	outbox := queue.NewOutbox(10, func() protocol.Address { return "fetch1me" })
	handler := ReplyErrorHandler(outbox, zerolog.Nop())

	env := envelopeFor(protocol.ProtocolID{Author: "fetchai", Name: "unknown", Version: "0.1.0"})
	handler(context.Background(), env, ReasonUnsupportedProtocol, nil)

	reply, err := outbox.Get(0)
	if err != nil {
		t.Fatalf("expected a reply to be enqueued: %v", err)
	}
	if reply.To != "fetch1them" {
		t.Fatalf("expected reply to go back to original sender, got %q", reply.To)
	}
	if reply.ProtocolID.String() != DefaultProtocolID.String() {
		t.Fatalf("expected reply on default protocol, got %q", reply.ProtocolID.String())
	}
}
