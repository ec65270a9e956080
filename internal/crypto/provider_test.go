package crypto

import "testing"

// Test vectors borrowed from the teacher's identity_test.go / wallet_test.go.
const (
	testLedgerID   = "fetchai"
	testAddress    = "fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr"
	testPublicKey  = "02ac514ba70de60ed5c30f90e3acdfc958ecb416d9676706bf013228abfb2c2816"
	testPrivateKey = "6d8d2b87d987641e2ca3f1991c1cccf08a118759e81fabdbf7e8484f27af015e"
)

func TestFetchAIAddressFromPublicKey(t *testing.T) {
	r := NewRegistry()
	p, err := r.Get(testLedgerID)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := p.AddressFromPublicKey(testPublicKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != testAddress {
		t.Fatalf("got %q, want %q", addr, testAddress)
	}
}

func TestSecp256k1SignAndVerify(t *testing.T) {
	r := NewRegistry()
	p, err := r.Get(testLedgerID)
	if err != nil {
		t.Fatal(err)
	}

	message := []byte("proof-of-representation payload")
	sig, err := p.Sign(message, testPrivateKey)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	pub, err := p.PublicKeyFromPrivateKey(testPrivateKey)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := p.Verify(message, sig, pub)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	ok, err = p.Verify([]byte("tampered"), sig, pub)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected signature over tampered message to fail verification")
	}
}

func TestIdentityCrossChecksAddress(t *testing.T) {
	r := NewRegistry()
	_, err := NewIdentity(r, testLedgerID, testPrivateKey, testPublicKey, "fetch1wrongaddress", zeroLogger())
	if err == nil {
		t.Fatal("expected mismatch error for wrong address")
	}
}
