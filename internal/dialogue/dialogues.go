package dialogue

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Dialogues manages every Dialogue a single agent address is party to,
// generalizing the teacher's Dialogues (dialogues.go) down to the single
// in-memory DialogueStorageInterface implementation this runtime needs; it
// is safe for concurrent use.
type Dialogues struct {
	mu          sync.Mutex
	selfAddress string
	rules       Rules
	byKey       map[string]*Dialogue
}

// NewDialogues returns a Dialogues manager for selfAddress, validating every
// tracked dialogue against rules.
func NewDialogues(selfAddress string, rules Rules) *Dialogues {
	return &Dialogues{selfAddress: selfAddress, rules: rules, byKey: make(map[string]*Dialogue)}
}

// lookupKey identifies a dialogue by its reference and counterparty only
// (not by which side started it): the starter's reference nonce is unique
// enough on its own, and deriving "who started it" from an arbitrary
// message in the exchange is unreliable, unlike looking it up directly.
func lookupKey(ref Reference, opponent string) string {
	return strings.Join([]string{ref.Starter, ref.Responder, opponent}, referenceSeparator)
}

// Update routes m to the dialogue it belongs to (creating one if m is an
// opening message) and validates it against that dialogue's history, per
// the teacher's Dialogues.update. It returns the Dialogue m was tracked
// against even when validation fails, so callers can inspect its state.
func (ds *Dialogues) Update(m AddressedMessage) (*Dialogue, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	opponent := ds.opponentOf(m)
	ref := m.DialogueReference()
	key := lookupKey(ref, opponent)

	d, ok := ds.byKey[key]
	if !ok && ref.Responder != UnassignedReference {
		// the responder's half of the reference was just assigned;
		// look the dialogue up under its still-incomplete key and
		// promote it once found.
		incompleteKey := lookupKey(Reference{Starter: ref.Starter, Responder: UnassignedReference}, opponent)
		if d, ok = ds.byKey[incompleteKey]; ok {
			delete(ds.byKey, incompleteKey)
			d.label.Reference = ref
			ds.byKey[key] = d
		}
	}
	if !ok {
		if m.MessageID() != StartingMessageID {
			return nil, errors.Errorf("dialogue: no dialogue found for non-initial message with target %d", m.Target())
		}
		starter := opponent
		if m.Sender() == ds.selfAddress {
			starter = ds.selfAddress
		}
		d = newDialogue(Label{Reference: ref, OpponentAddress: opponent, StarterAddress: starter}, ds.selfAddress, ds.rules)
		ds.byKey[key] = d
	}

	if err := d.Update(m); err != nil {
		return d, err
	}
	return d, nil
}

func (ds *Dialogues) opponentOf(m AddressedMessage) string {
	if m.Sender() == ds.selfAddress {
		return m.To()
	}
	return m.Sender()
}

// Get returns the dialogue tracked under label, if any.
func (ds *Dialogues) Get(label Label) (*Dialogue, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.byKey[lookupKey(label.Reference, label.OpponentAddress)]
	return d, ok
}

// Create starts a new self-initiated dialogue with counterparty, returning
// its fresh Label so the caller can stamp the initial message's
// DialogueReference before sending it, per the teacher's Dialogues.Create.
func (ds *Dialogues) Create(counterparty string) Label {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	label := Label{
		Reference:       NewSelfInitiatedReference(),
		OpponentAddress: counterparty,
		StarterAddress:  ds.selfAddress,
	}
	ds.byKey[lookupKey(label.Reference, label.OpponentAddress)] = newDialogue(label, ds.selfAddress, ds.rules)
	return label
}
