package skill

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/dialogue"
	"github.com/aea-network/aea/internal/protocol"
)

type negotiationMessage struct {
	sender, to, performative string
	id, target               dialogue.MessageID
	ref                      dialogue.Reference
}

func (m *negotiationMessage) Performative() string                 { return m.performative }
func (m *negotiationMessage) Sender() string                       { return m.sender }
func (m *negotiationMessage) To() string                           { return m.to }
func (m *negotiationMessage) MessageID() dialogue.MessageID        { return m.id }
func (m *negotiationMessage) Target() dialogue.MessageID           { return m.target }
func (m *negotiationMessage) DialogueReference() dialogue.Reference { return m.ref }

func negotiationRules() dialogue.Rules {
	return dialogue.NewRules(
		[]string{"propose"},
		[]string{"accept", "decline"},
		map[string][]string{"propose": {"accept", "decline"}},
	)
}

func TestDialogueAwarePassesThroughNonAddressedMessages(t *testing.T) {
	dialogues := dialogue.NewDialogues("seller", negotiationRules())
	invoked := false
	h := DialogueAware(dialogues, zerolog.Nop(), func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error {
		invoked = true
		return nil
	})
	if err := h(context.Background(), envelopeFor(protocol.ProtocolID{Author: "fetchai", Name: "echo", Version: "0.1.0"}), &echoMessage{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !invoked {
		t.Fatal("expected the wrapped handler to run for a non-addressed message")
	}
}

func TestDialogueAwareAcceptsValidOpeningMessage(t *testing.T) {
	dialogues := dialogue.NewDialogues("seller", negotiationRules())
	invoked := false
	h := DialogueAware(dialogues, zerolog.Nop(), func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error {
		invoked = true
		return nil
	})
	label := dialogues.Create("buyer")
	msg := &negotiationMessage{sender: "seller", to: "buyer", performative: "propose", id: dialogue.StartingMessageID, target: dialogue.StartingTarget, ref: label.Reference}
	env := envelopeFor(protocol.ProtocolID{Author: "fetchai", Name: "negotiation", Version: "0.1.0"})
	if err := h(context.Background(), env, msg); err != nil {
		t.Fatalf("unexpected rejection of a valid opening message: %v", err)
	}
	if !invoked {
		t.Fatal("expected the wrapped handler to run once dialogue validation passes")
	}
}

func TestDialogueAwareRejectsInvalidOpeningPerformative(t *testing.T) {
	dialogues := dialogue.NewDialogues("seller", negotiationRules())
	invoked := false
	h := DialogueAware(dialogues, zerolog.Nop(), func(ctx context.Context, env *protocol.Envelope, message protocol.Message) error {
		invoked = true
		return nil
	})
	label := dialogues.Create("buyer")
	msg := &negotiationMessage{sender: "seller", to: "buyer", performative: "accept", id: dialogue.StartingMessageID, target: dialogue.StartingTarget, ref: label.Reference}
	env := envelopeFor(protocol.ProtocolID{Author: "fetchai", Name: "negotiation", Version: "0.1.0"})
	if err := h(context.Background(), env, msg); err == nil {
		t.Fatal("expected an error for an opening message with an invalid initial performative")
	}
	if invoked {
		t.Fatal("expected the wrapped handler not to run once dialogue validation rejects the message")
	}
}
