// Package protocol implements the canonical envelope wire format and the
// protocol-id -> codec registry described by the ACN/runtime wire contract.
//
// Envelopes are encoded with the protobuf wire format via
// google.golang.org/protobuf/encoding/protowire directly (no protoc-generated
// types are available in this tree), matching the field layout the teacher's
// Envelope protobuf message uses: to=1, sender=2, protocol_id=3, message=4,
// uri=5.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Address is an agent-level identifier derived from a keypair.
type Address = string

// ProtocolID is the (author, name, version) triple that globally and
// uniquely identifies a wire protocol.
type ProtocolID struct {
	Author  string
	Name    string
	Version string
}

func (p ProtocolID) String() string {
	return fmt.Sprintf("%s/%s:%s", p.Author, p.Name, p.Version)
}

// Context carries optional routing hints for an outbound envelope. URI is
// wire-carried; ConnectionID is a local-only hint consumed by the
// multiplexer and never serialized.
type Context struct {
	ConnectionID string
	URI          string
}

// Envelope is the atomic unit of communication between agents.
type Envelope struct {
	To         Address
	Sender     Address
	ProtocolID ProtocolID
	Message    []byte
	Context    Context
}

const (
	fieldTo         = 1
	fieldSender     = 2
	fieldProtocolID = 3
	fieldMessage    = 4
	fieldURI        = 5
)

// Validate checks the invariants from the data model: to, sender and
// protocol_id are required and non-empty, and message is present (it may be
// zero-length but must not be nil).
func (e *Envelope) Validate() error {
	if e.To == "" {
		return fmt.Errorf("envelope: 'to' is required")
	}
	if e.Sender == "" {
		return fmt.Errorf("envelope: 'sender' is required")
	}
	if e.ProtocolID == (ProtocolID{}) {
		return fmt.Errorf("envelope: 'protocol_id' is required")
	}
	if e.Message == nil {
		return fmt.Errorf("envelope: 'message' is required")
	}
	return nil
}

// Marshal encodes the envelope using the stable field order from the data
// model. It does not prefix the 4-byte length; callers that frame envelopes
// over a stream do that separately (see WriteFrame/ReadFrame).
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	var buf []byte
	buf = protowire.AppendTag(buf, fieldTo, protowire.BytesType)
	buf = protowire.AppendString(buf, e.To)
	buf = protowire.AppendTag(buf, fieldSender, protowire.BytesType)
	buf = protowire.AppendString(buf, e.Sender)
	buf = protowire.AppendTag(buf, fieldProtocolID, protowire.BytesType)
	buf = protowire.AppendString(buf, e.ProtocolID.String())
	buf = protowire.AppendTag(buf, fieldMessage, protowire.BytesType)
	buf = protowire.AppendBytes(buf, e.Message)
	if e.Context.URI != "" {
		buf = protowire.AppendTag(buf, fieldURI, protowire.BytesType)
		buf = protowire.AppendString(buf, e.Context.URI)
	}
	return buf, nil
}

// Unmarshal decodes an envelope previously produced by Marshal. Unknown
// fields are skipped for forward compatibility.
func Unmarshal(data []byte) (*Envelope, error) {
	env := &Envelope{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]
		switch num {
		case fieldTo:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.To = v
			data = data[n:]
		case fieldSender:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.Sender = v
			data = data[n:]
		case fieldProtocolID:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			pid, err := ParseProtocolID(v)
			if err != nil {
				return nil, err
			}
			env.ProtocolID = pid
			data = data[n:]
		case fieldMessage:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.Message = append([]byte(nil), v...)
			data = data[n:]
		case fieldURI:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			env.Context.URI = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// ParseProtocolID parses the "author/name:version" string form stored on
// the wire back into its triple.
func ParseProtocolID(s string) (ProtocolID, error) {
	var author, rest string
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			author = s[:i]
			rest = s[i+1:]
			break
		}
	}
	if rest == "" {
		return ProtocolID{}, fmt.Errorf("protocol: malformed protocol id %q", s)
	}
	var name, version string
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			name = rest[:i]
			version = rest[i+1:]
			break
		}
	}
	if version == "" {
		return ProtocolID{}, fmt.Errorf("protocol: malformed protocol id %q", s)
	}
	return ProtocolID{Author: author, Name: name, Version: version}, nil
}
