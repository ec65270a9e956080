package dialogue

import "testing"

type fakeMessage struct {
	sender       string
	to           string
	performative string
	id           MessageID
	target       MessageID
	ref          Reference
}

func (m fakeMessage) Performative() string         { return m.performative }
func (m fakeMessage) Sender() string               { return m.sender }
func (m fakeMessage) To() string                   { return m.to }
func (m fakeMessage) MessageID() MessageID         { return m.id }
func (m fakeMessage) Target() MessageID            { return m.target }
func (m fakeMessage) DialogueReference() Reference { return m.ref }

func negotiationRules() Rules {
	return NewRules(
		[]string{"propose"},
		[]string{"accept", "decline"},
		map[string][]string{
			"propose": {"accept", "decline", "counter"},
			"counter": {"accept", "decline", "counter"},
		},
	)
}

func TestDialoguesHappyPath(t *testing.T) {
	seller := NewDialogues("seller", negotiationRules())

	label := seller.Create("buyer")
	propose := fakeMessage{sender: "seller", to: "buyer", performative: "propose", id: StartingMessageID, target: StartingTarget, ref: label.Reference}
	if _, err := seller.Update(propose); err != nil {
		t.Fatalf("initial propose rejected: %v", err)
	}

	// buyer's counter-offer assigns the responder half of the reference.
	ref := Reference{Starter: label.Reference.Starter, Responder: "resp-nonce"}
	counter := fakeMessage{sender: "buyer", to: "seller", performative: "counter", id: -1, target: 1, ref: ref}
	d, err := seller.Update(counter)
	if err != nil {
		t.Fatalf("counter-offer rejected: %v", err)
	}
	if d.LastIncoming() == nil || d.LastIncoming().Performative() != "counter" {
		t.Fatalf("expected counter tracked as incoming, got %+v", d.LastIncoming())
	}

	accept := fakeMessage{sender: "seller", to: "buyer", performative: "accept", id: 2, target: -1, ref: ref}
	terminal := false
	d.AddTerminalStateCallback(func(*Dialogue) { terminal = true })
	if _, err := seller.Update(accept); err != nil {
		t.Fatalf("accept rejected: %v", err)
	}
	if !terminal {
		t.Fatal("expected terminal-state callback to fire on accept")
	}
}

func TestDialoguesRejectsInvalidInitialPerformative(t *testing.T) {
	seller := NewDialogues("seller", negotiationRules())
	label := seller.Create("buyer")
	bogus := fakeMessage{sender: "seller", to: "buyer", performative: "accept", id: StartingMessageID, target: StartingTarget, ref: label.Reference}
	if _, err := seller.Update(bogus); err == nil {
		t.Fatal("expected an error for an opening message whose performative isn't a valid initial one")
	}
}

func TestDialoguesRejectsInvalidReply(t *testing.T) {
	seller := NewDialogues("seller", negotiationRules())
	label := seller.Create("buyer")
	propose := fakeMessage{sender: "seller", to: "buyer", performative: "propose", id: StartingMessageID, target: StartingTarget, ref: label.Reference}
	if _, err := seller.Update(propose); err != nil {
		t.Fatalf("initial propose rejected: %v", err)
	}

	ref := Reference{Starter: label.Reference.Starter, Responder: "resp-nonce"}
	// "propose" is not in the valid-reply set for another "propose".
	badReply := fakeMessage{sender: "buyer", to: "seller", performative: "propose", id: -1, target: 1, ref: ref}
	if _, err := seller.Update(badReply); err == nil {
		t.Fatal("expected an error for a reply performative not in the valid-reply graph")
	}
}

func TestDialoguesRejectsOutOfSequenceMessageID(t *testing.T) {
	seller := NewDialogues("seller", negotiationRules())
	label := seller.Create("buyer")
	propose := fakeMessage{sender: "seller", to: "buyer", performative: "propose", id: StartingMessageID, target: StartingTarget, ref: label.Reference}
	if _, err := seller.Update(propose); err != nil {
		t.Fatalf("initial propose rejected: %v", err)
	}

	ref := Reference{Starter: label.Reference.Starter, Responder: "resp-nonce"}
	// message id should be -1, not -2.
	skippedID := fakeMessage{sender: "buyer", to: "seller", performative: "accept", id: -2, target: 1, ref: ref}
	if _, err := seller.Update(skippedID); err == nil {
		t.Fatal("expected an error for a message id that skips the expected sequence")
	}
}

func TestLabelIncompleteRoundTrip(t *testing.T) {
	label := Label{Reference: Reference{Starter: "abc", Responder: "def"}, OpponentAddress: "buyer", StarterAddress: "seller"}
	incomplete := label.Incomplete()
	if incomplete.Reference.Responder != UnassignedReference {
		t.Fatalf("expected incomplete label to clear the responder reference, got %q", incomplete.Reference.Responder)
	}
	if incomplete.Reference.Starter != label.Reference.Starter {
		t.Fatal("expected incomplete label to keep the starter reference")
	}
}
