package dialogue

import "github.com/pkg/errors"

// Dialogue tracks one exchange between selfAddress and an opponent: the
// ordered messages seen so far and the Rules they must obey, per the
// teacher's Dialogue (dialogue.go). It is not safe for concurrent use by
// multiple goroutines; callers serialize access through Dialogues.
type Dialogue struct {
	label       Label
	selfAddress string
	rules       Rules

	outgoing []AddressedMessage
	incoming []AddressedMessage
	lastID   MessageID

	onTerminal []func(*Dialogue)
}

func newDialogue(label Label, selfAddress string, rules Rules) *Dialogue {
	return &Dialogue{label: label, selfAddress: selfAddress, rules: rules}
}

// Label returns the dialogue's identifying label.
func (d *Dialogue) Label() Label { return d.label }

// IsSelfInitiated reports whether selfAddress opened this dialogue.
func (d *Dialogue) IsSelfInitiated() bool {
	return d.label.StarterAddress == d.selfAddress
}

// IsEmpty reports whether no message has been tracked yet.
func (d *Dialogue) IsEmpty() bool { return len(d.outgoing) == 0 && len(d.incoming) == 0 }

// LastIncoming returns the most recent message received from the opponent,
// or nil if none has arrived yet.
func (d *Dialogue) LastIncoming() AddressedMessage {
	if n := len(d.incoming); n > 0 {
		return d.incoming[n-1]
	}
	return nil
}

// LastOutgoing returns the most recent message sent to the opponent, or nil.
func (d *Dialogue) LastOutgoing() AddressedMessage {
	if n := len(d.outgoing); n > 0 {
		return d.outgoing[n-1]
	}
	return nil
}

// AddTerminalStateCallback registers fn to run whenever a message with a
// terminal performative is tracked.
func (d *Dialogue) AddTerminalStateCallback(fn func(*Dialogue)) {
	d.onTerminal = append(d.onTerminal, fn)
}

func (d *Dialogue) isMessageBySelf(m AddressedMessage) bool { return m.Sender() == d.selfAddress }

// Update validates m against this dialogue's history and Rules and, if
// valid, appends it to the dialogue, per the teacher's Dialogue.update. It
// returns an error without mutating the dialogue if m is out of sequence.
func (d *Dialogue) Update(m AddressedMessage) error {
	if err := d.validateNext(m); err != nil {
		return err
	}
	if d.isMessageBySelf(m) {
		d.outgoing = append(d.outgoing, m)
	} else {
		d.incoming = append(d.incoming, m)
	}
	d.lastID = m.MessageID()

	if d.rules.isTerminal(m.Performative()) {
		for _, fn := range d.onTerminal {
			fn(d)
		}
	}
	return nil
}

func (d *Dialogue) validateNext(m AddressedMessage) error {
	if d.IsEmpty() {
		return d.validateInitial(m)
	}
	return d.validateNonInitial(m)
}

func (d *Dialogue) validateInitial(m AddressedMessage) error {
	if m.MessageID() != StartingMessageID {
		return errors.Errorf("dialogue: invalid message id: expected %d, found %d", StartingMessageID, m.MessageID())
	}
	if m.Target() != StartingTarget {
		return errors.Errorf("dialogue: invalid target: expected %d, found %d", StartingTarget, m.Target())
	}
	if !d.rules.isInitial(m.Performative()) {
		return errors.Errorf("dialogue: %q is not a valid initial performative", m.Performative())
	}
	return nil
}

func (d *Dialogue) validateNonInitial(m AddressedMessage) error {
	if err := d.validateMessageID(m); err != nil {
		return err
	}
	return d.validateTarget(m)
}

func (d *Dialogue) validateMessageID(m AddressedMessage) error {
	expected := d.nextMessageID(d.isMessageBySelf(m))
	if m.MessageID() != expected {
		return errors.Errorf("dialogue: invalid message id: expected %d, found %d", expected, m.MessageID())
	}
	return nil
}

// nextMessageID computes the id the next message from "self" (outgoing) or
// the next message from the opponent (incoming) must carry, following the
// teacher's sign convention: the dialogue initiator counts up from 1, the
// responder counts down from -1.
func (d *Dialogue) nextMessageID(outgoing bool) MessageID {
	selfInitiated := d.IsSelfInitiated()
	var last AddressedMessage
	if outgoing {
		last = d.LastOutgoing()
	} else {
		last = d.LastIncoming()
	}
	next := StartingMessageID
	if last != nil {
		next = abs(d.lastID) + 1
	}
	if outgoing != selfInitiated {
		next = -next
	}
	return next
}

func (d *Dialogue) validateTarget(m AddressedMessage) error {
	target := m.Target()
	if target == StartingTarget {
		return errors.Errorf("dialogue: invalid target: expected a non-zero id, found %d", target)
	}

	var latest []MessageID
	if last := d.LastIncoming(); last != nil {
		latest = append(latest, abs(last.MessageID()))
	}
	if last := d.LastOutgoing(); last != nil {
		latest = append(latest, abs(last.MessageID()))
	}
	if absTarget := abs(target); len(latest) > 0 && absTarget > maxID(latest) {
		return errors.Errorf("dialogue: invalid target: expected at most %d, found %d", maxID(latest), absTarget)
	}

	targetMessage := d.byID(target)
	if targetMessage == nil {
		return errors.Errorf("dialogue: target message %d not found", target)
	}
	if !d.rules.isValidReply(targetMessage.Performative(), m.Performative()) {
		return errors.Errorf("dialogue: %q is not a valid reply to %q", m.Performative(), targetMessage.Performative())
	}
	return nil
}

func (d *Dialogue) byID(id MessageID) AddressedMessage {
	if id == 0 {
		return nil
	}
	list := d.incoming
	if (id > 0) == d.IsSelfInitiated() {
		list = d.outgoing
	}
	if len(list) == 0 {
		return nil
	}
	idx := abs(id) - 1
	if int(idx) >= len(list) {
		return nil
	}
	return list[idx]
}
