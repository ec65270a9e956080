// Package dialogue implements dialogue tracking: validating that a sequence
// of messages between two agents follows a protocol's reply structure
// (initial performative, valid-reply graph, terminal states), generalizing
// the teacher's libs/go/aealite/protocols dialogue.go/dialogue_label.go/
// dialogues.go into a narrower package sized for this runtime's opaque
// protocol.Message dispatch pipeline.
package dialogue

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// UnassignedReference marks the responder half of a Reference before the
// counterparty has replied, per the teacher's UnassignedDialogueReference.
const UnassignedReference = ""

// referenceSeparator joins a Label's four components in its String form,
// matching the teacher's DialogueLabelStringSeparator.
const referenceSeparator = "_"

// Reference is the pair of nonces that, together with the two parties'
// addresses, uniquely identifies one dialogue instance.
type Reference struct {
	Starter   string
	Responder string
}

// Label identifies one dialogue: the reference nonce pair, who it is with,
// and who started it, per the teacher's DialogueLabel.
type Label struct {
	Reference       Reference
	OpponentAddress string
	StarterAddress  string
}

// Incomplete returns the version of label before the responder's nonce was
// assigned, used to look a dialogue up by its starter-only half.
func (l Label) Incomplete() Label {
	return Label{
		Reference:       Reference{Starter: l.Reference.Starter, Responder: UnassignedReference},
		OpponentAddress: l.OpponentAddress,
		StarterAddress:  l.StarterAddress,
	}
}

// String renders the label the way the teacher's DialogueLabel.String does,
// suitable as a map key or log field.
func (l Label) String() string {
	return strings.Join([]string{
		l.Reference.Starter,
		l.Reference.Responder,
		l.OpponentAddress,
		l.StarterAddress,
	}, referenceSeparator)
}

// NewSelfInitiatedReference generates a fresh starter nonce for a dialogue
// this side is opening, per the teacher's newSelfInitiatedDialogueReference.
func NewSelfInitiatedReference() Reference {
	return Reference{Starter: randomNonce(), Responder: UnassignedReference}
}

func randomNonce() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable; a predictable fallback is
		// still unique enough within a process lifetime for bookkeeping.
		return fmt.Sprintf("nonce-read-failed-%p", buf)
	}
	return hex.EncodeToString(buf)
}
