package acn

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	aeacrypto "github.com/aea-network/aea/internal/crypto"
)

const (
	testLedgerID   = "fetchai"
	testAddress    = "fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr"
	testPublicKey  = "02ac514ba70de60ed5c30f90e3acdfc958ecb416d9676706bf013228abfb2c2816"
	testPrivateKey = "6d8d2b87d987641e2ca3f1991c1cccf08a118759e81fabdbf7e8484f27af015e"
)

func testIdentity(t *testing.T) (*aeacrypto.Registry, *aeacrypto.Identity) {
	t.Helper()
	r := aeacrypto.NewRegistry()
	id, err := aeacrypto.NewIdentity(r, testLedgerID, testPrivateKey, testPublicKey, testAddress, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return r, id
}

func TestCreateAndValidatePoR(t *testing.T) {
	r, id := testIdentity(t)
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	record, err := CreateAgentRecord(r, id, "peer-pubkey-hex", notBefore, notAfter)
	if err != nil {
		t.Fatalf("unexpected error creating record: %v", err)
	}

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidatePoR(r, record, testAddress, "peer-pubkey-hex", now); err != nil {
		t.Fatalf("expected valid PoR, got error: %v", err)
	}
}

func TestValidatePoRRejectsOutsideValidityWindow(t *testing.T) {
	r, id := testIdentity(t)
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	record, err := CreateAgentRecord(r, id, "peer-pubkey-hex", notBefore, notAfter)
	if err != nil {
		t.Fatal(err)
	}

	afterExpiry := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidatePoR(r, record, testAddress, "peer-pubkey-hex", afterExpiry); err == nil {
		t.Fatal("expected validation to fail once past not_after")
	}

	beforeStart := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidatePoR(r, record, testAddress, "peer-pubkey-hex", beforeStart); err == nil {
		t.Fatal("expected validation to fail before not_before")
	}
}

func TestValidatePoRRejectsWrongRepresentativeKey(t *testing.T) {
	r, id := testIdentity(t)
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	record, err := CreateAgentRecord(r, id, "peer-pubkey-hex", notBefore, notAfter)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidatePoR(r, record, testAddress, "some-other-key", now); err == nil {
		t.Fatal("expected validation to fail for mismatched representative key")
	}
}

func TestValidatePoRRejectsTamperedSignature(t *testing.T) {
	r, id := testIdentity(t)
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	record, err := CreateAgentRecord(r, id, "peer-pubkey-hex", notBefore, notAfter)
	if err != nil {
		t.Fatal(err)
	}
	record.Signature = "dGFtcGVyZWQ=" // base64("tampered")

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := ValidatePoR(r, record, testAddress, "peer-pubkey-hex", now); err == nil {
		t.Fatal("expected validation to fail for tampered signature")
	}
}
