package acn

import (
	"testing"
	"time"
)

func sampleRecord() *AgentRecord {
	return &AgentRecord{
		Address:                 "fetch1abc",
		PublicKey:               "02aa",
		RepresentativePublicKey: "03bb",
		MessageFormat:           DefaultMessageFormat,
		Signature:               "c2ln",
		LedgerID:                "fetchai",
		NotBefore:               time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:                time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestControlMessageRegisterRoundTrip(t *testing.T) {
	msg := NewRegisterMessage(sampleRecord())
	data, err := MarshalControlMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Register == nil || got.Register.Address != "fetch1abc" {
		t.Fatalf("register did not round-trip: %+v", got.Register)
	}
	if !got.Register.NotBefore.Equal(sampleRecord().NotBefore) {
		t.Fatalf("not_before did not round-trip: %v", got.Register.NotBefore)
	}
}

func TestControlMessageEnvelopeWithRecordRoundTrip(t *testing.T) {
	msg := NewEnvelopeMessage([]byte("envelope-bytes"), sampleRecord())
	data, err := MarshalControlMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Envelope == nil || string(got.Envelope.Envelope) != "envelope-bytes" {
		t.Fatalf("envelope bytes did not round-trip: %+v", got.Envelope)
	}
	if got.Envelope.Record == nil || got.Envelope.Record.Address != "fetch1abc" {
		t.Fatalf("embedded record did not round-trip: %+v", got.Envelope.Record)
	}
}

func TestControlMessageStatusRoundTrip(t *testing.T) {
	msg := NewStatusMessage(NewStatusError(ErrInvalidProof, "record expired"))
	data, err := MarshalControlMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	status, err := UnmarshalStatusMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if status.Success() {
		t.Fatal("expected failure status")
	}
	if status.Code != ErrInvalidProof {
		t.Fatalf("unexpected code: %v", status.Code)
	}
}

func TestControlMessageLookupRoundTrip(t *testing.T) {
	msg := NewLookupRequestMessage("fetch1target")
	data, err := MarshalControlMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalControlMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.LookupRequest != "fetch1target" {
		t.Fatalf("unexpected lookup request: %q", got.LookupRequest)
	}
}
