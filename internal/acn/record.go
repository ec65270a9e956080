// Package acn implements the ACN Peer: DHT-backed address resolution,
// relay/delegate client registration, envelope routing and the persistent
// record store, grounded on the teacher's libp2p_node package (acn/utils.go,
// dht/dhtnode/utils.go, dht/dhtpeer/options.go).
package acn

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	aeacrypto "github.com/aea-network/aea/internal/crypto"
)

// AgentRecord is the Proof-of-Representation tuple from the data model:
// it proves that the holder of Address authorized RepresentativePublicKey
// to speak on its behalf, within [NotBefore, NotAfter).
//
// PublicKey (the agent's own public key, corresponding 1:1 to Address) is
// carried alongside the spec's named fields because signature verification
// requires it; the teacher's AgentRecord protobuf carries the same field
// for the same reason.
type AgentRecord struct {
	Address                 string
	PublicKey               string
	RepresentativePublicKey string
	MessageFormat           string
	Signature               string
	LedgerID                string
	NotBefore               time.Time
	NotAfter                time.Time
}

// DefaultMessageFormat is the template signed over by CreateAgentRecord. It
// is stored verbatim on the record (per spec.md §6) so any verifier can
// reconstruct the exact signed bytes without agreeing out-of-band on a
// format version.
const DefaultMessageFormat = "{representative_public_key}|{not_before}|{not_after}|{ledger_id}|{address}"

// RenderMessageFormat substitutes the record's own fields into its
// MessageFormat template, producing the exact byte string that was (or
// must be) signed.
func RenderMessageFormat(messageFormat, representativePublicKey string, notBefore, notAfter time.Time, ledgerID, address string) []byte {
	r := strings.NewReplacer(
		"{representative_public_key}", representativePublicKey,
		"{not_before}", notBefore.UTC().Format(time.RFC3339),
		"{not_after}", notAfter.UTC().Format(time.RFC3339),
		"{ledger_id}", ledgerID,
		"{address}", address,
	)
	return []byte(r.Replace(messageFormat))
}

// CreateAgentRecord builds and signs a fresh AgentRecord authorizing
// representativePublicKey to act for identity, valid for the given window.
// Records are created once at client startup (per the data model) and held
// for their validity lifetime.
func CreateAgentRecord(registry *aeacrypto.Registry, identity *aeacrypto.Identity, representativePublicKey string, notBefore, notAfter time.Time) (*AgentRecord, error) {
	provider, err := registry.Get(identity.LedgerID)
	if err != nil {
		return nil, err
	}
	payload := RenderMessageFormat(DefaultMessageFormat, representativePublicKey, notBefore, notAfter, identity.LedgerID, identity.Address)
	sig, err := provider.Sign(payload, identity.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "while signing agent record")
	}
	return &AgentRecord{
		Address:                 identity.Address,
		PublicKey:               identity.PublicKey,
		RepresentativePublicKey: representativePublicKey,
		MessageFormat:           DefaultMessageFormat,
		Signature:               sig,
		LedgerID:                identity.LedgerID,
		NotBefore:               notBefore,
		NotAfter:                notAfter,
	}, nil
}

// ValidatePoR checks the Proof-of-Representation invariants from spec.md
// §3/§4.7: the record's address must match the expected agent address, its
// representative_public_key must equal the key presented by the connection
// holder (e.g. the remote libp2p peer's public key), the signature must
// verify against the record's own public key over its rendered
// message_format, the derived address from that public key must match, and
// now must fall within [not_before, not_after).
func ValidatePoR(registry *aeacrypto.Registry, record *AgentRecord, expectedAddress, representativeKey string, now time.Time) error {
	if record.Address != expectedAddress {
		return errors.Errorf("wrong agent address, expected %s got %s", expectedAddress, record.Address)
	}
	if record.RepresentativePublicKey != representativeKey {
		return errors.New("wrong representative (peer) public key")
	}
	provider, err := registry.Get(record.LedgerID)
	if err != nil {
		return errors.Wrapf(err, "unsupported ledger %q", record.LedgerID)
	}
	derivedAddress, err := provider.AddressFromPublicKey(record.PublicKey)
	if err != nil || derivedAddress != record.Address {
		return errors.New("agent address and public key don't match")
	}
	if now.Before(record.NotBefore) || !now.Before(record.NotAfter) {
		return errors.Errorf("record not valid at %s (window [%s, %s))", now.Format(time.RFC3339), record.NotBefore.Format(time.RFC3339), record.NotAfter.Format(time.RFC3339))
	}
	payload := RenderMessageFormat(record.MessageFormat, record.RepresentativePublicKey, record.NotBefore, record.NotAfter, record.LedgerID, record.Address)
	ok, err := provider.Verify(payload, record.Signature, record.PublicKey)
	if err != nil {
		return errors.Wrap(err, "while verifying record signature")
	}
	if !ok {
		return errors.New("record signature is not valid")
	}
	return nil
}
