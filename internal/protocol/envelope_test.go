package protocol

import (
	"bytes"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	original := &Envelope{
		To:         "fetch1to",
		Sender:     "fetch1sender",
		ProtocolID: ProtocolID{Author: "fetchai", Name: "fipa", Version: "1.0.0"},
		Message:    []byte{0x01, 0x02},
		Context:    Context{URI: "tcp://localhost:8080"},
	}

	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.To != original.To || decoded.Sender != original.Sender {
		t.Fatalf("roundtrip mismatch on to/sender: %+v", decoded)
	}
	if decoded.ProtocolID != original.ProtocolID {
		t.Fatalf("roundtrip mismatch on protocol id: %+v", decoded.ProtocolID)
	}
	if !bytes.Equal(decoded.Message, original.Message) {
		t.Fatalf("roundtrip mismatch on message: %v", decoded.Message)
	}
	if decoded.Context.URI != original.Context.URI {
		t.Fatalf("roundtrip mismatch on uri: %v", decoded.Context.URI)
	}

	// ConnectionID is a local-only routing hint and must not survive the wire.
	if decoded.Context.ConnectionID != "" {
		t.Fatalf("connection id must not be serialized, got %q", decoded.Context.ConnectionID)
	}
}

func TestEnvelopeValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing to", Envelope{Sender: "s", ProtocolID: ProtocolID{"a", "n", "1.0.0"}, Message: []byte{}}},
		{"missing sender", Envelope{To: "t", ProtocolID: ProtocolID{"a", "n", "1.0.0"}, Message: []byte{}}},
		{"missing protocol id", Envelope{To: "t", Sender: "s", Message: []byte{}}},
		{"nil message", Envelope{To: "t", Sender: "s", ProtocolID: ProtocolID{"a", "n", "1.0.0"}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.env.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", c.name)
			}
		})
	}
}

func TestParseProtocolID(t *testing.T) {
	pid, err := ParseProtocolID("fetchai/fipa:1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := ProtocolID{Author: "fetchai", Name: "fipa", Version: "1.0.0"}
	if pid != want {
		t.Fatalf("got %+v, want %+v", pid, want)
	}

	if _, err := ParseProtocolID("malformed"); err == nil {
		t.Fatal("expected error for malformed protocol id")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	env := &Envelope{
		To:         "to",
		Sender:     "sender",
		ProtocolID: ProtocolID{Author: "fetchai", Name: "default", Version: "0.1.0"},
		Message:    []byte("hello"),
	}

	var buf bytes.Buffer
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatalf("WriteEnvelope failed: %v", err)
	}

	decoded, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatalf("ReadEnvelope failed: %v", err)
	}
	if decoded.To != env.To || !bytes.Equal(decoded.Message, env.Message) {
		t.Fatalf("frame roundtrip mismatch: %+v", decoded)
	}
}
