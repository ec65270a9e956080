package acn

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ACNProtocolVersion is carried on every control message so future wire
// changes can be detected by a version mismatch, matching the teacher's
// AcnMessage.Version field (aealite/connections/acn's generated pb).
const ACNProtocolVersion = "0.1.0"

// ErrCode mirrors the teacher's generated Status_ErrCode enum.
type ErrCode int32

const (
	ErrSuccess           ErrCode = 0
	ErrUnsupportedLedger ErrCode = 1
	ErrUnexpectedPayload ErrCode = 2
	ErrDecode            ErrCode = 3
	ErrInvalidProof      ErrCode = 4
	ErrAgentNotFound     ErrCode = 5
	ErrAlreadyRegistered ErrCode = 6
	ErrGeneric           ErrCode = 7
	ErrAgentNotReady     ErrCode = 8
	ErrSenderMismatch    ErrCode = 9
)

func (c ErrCode) String() string {
	switch c {
	case ErrSuccess:
		return "SUCCESS"
	case ErrUnsupportedLedger:
		return "ERROR_UNSUPPORTED_LEDGER"
	case ErrUnexpectedPayload:
		return "ERROR_UNEXPECTED_PAYLOAD"
	case ErrDecode:
		return "ERROR_DECODE"
	case ErrInvalidProof:
		return "ERROR_INVALID_PROOF"
	case ErrAgentNotFound:
		return "ERROR_AGENT_NOT_FOUND"
	case ErrAlreadyRegistered:
		return "ERROR_ALREADY_REGISTERED"
	case ErrAgentNotReady:
		return "ERROR_AGENT_NOT_READY"
	case ErrSenderMismatch:
		return "ERROR_SENDER_MISMATCH"
	default:
		return "ERROR_GENERIC"
	}
}

// StatusMessage mirrors the teacher's StatusBody: a result code plus
// free-form diagnostic strings.
type StatusMessage struct {
	Code ErrCode
	Msgs []string
}

func (s *StatusMessage) Success() bool { return s.Code == ErrSuccess }

func (s *StatusMessage) String() string {
	return s.Code.String() + ": " + strings.Join(s.Msgs, "; ")
}

// NewStatusSuccess and NewStatusError build the two StatusMessage shapes the
// ACN peer ever sends, per the teacher's SendAcnSuccess / SendAcnError.
func NewStatusSuccess() *StatusMessage { return &StatusMessage{Code: ErrSuccess} }

func NewStatusError(code ErrCode, msg string) *StatusMessage {
	return &StatusMessage{Code: code, Msgs: []string{msg}}
}

// ControlMessage is the ACN peer's control-plane message, a union over the
// five performatives the teacher's AcnMessage oneof carries: Register,
// LookupRequest, LookupResponse, AeaEnvelope and Status. Exactly one
// variant field is non-nil.
type ControlMessage struct {
	Version string

	Register       *AgentRecord
	LookupRequest  string // agent address being looked up
	LookupResponse *AgentRecord
	Envelope       *EnvelopePerformative
	Status         *StatusMessage
}

// EnvelopePerformative carries an already-encoded Envelope plus the
// sender's AgentRecord so the receiving peer can validate the PoR before
// forwarding, matching the teacher's AeaEnvelopePerformative.
type EnvelopePerformative struct {
	Envelope []byte
	Record   *AgentRecord
}

func NewRegisterMessage(record *AgentRecord) *ControlMessage {
	return &ControlMessage{Version: ACNProtocolVersion, Register: record}
}

func NewLookupRequestMessage(address string) *ControlMessage {
	return &ControlMessage{Version: ACNProtocolVersion, LookupRequest: address}
}

func NewLookupResponseMessage(record *AgentRecord) *ControlMessage {
	return &ControlMessage{Version: ACNProtocolVersion, LookupResponse: record}
}

func NewEnvelopeMessage(envelopeBytes []byte, record *AgentRecord) *ControlMessage {
	return &ControlMessage{Version: ACNProtocolVersion, Envelope: &EnvelopePerformative{Envelope: envelopeBytes, Record: record}}
}

func NewStatusMessage(status *StatusMessage) *ControlMessage {
	return &ControlMessage{Version: ACNProtocolVersion, Status: status}
}

// Wire field numbers for ControlMessage, matching the teacher's generated
// protobuf layout closely enough to round-trip: version=1, then one field
// per oneof variant.
const (
	fieldVersion        = 1
	fieldRegister       = 2
	fieldLookupRequest  = 3
	fieldLookupResponse = 4
	fieldEnvelope       = 5
	fieldStatus         = 6
)

const (
	fieldRecordAddress       = 1
	fieldRecordPublicKey     = 2
	fieldRecordRepresentKey  = 3
	fieldRecordMessageFormat = 4
	fieldRecordSignature     = 5
	fieldRecordLedgerID      = 6
	fieldRecordNotBefore     = 7
	fieldRecordNotAfter      = 8
)

const (
	fieldEnvPerfEnvelope = 1
	fieldEnvPerfRecord   = 2
)

const (
	fieldStatusCode = 1
	fieldStatusMsgs = 2
)

func encodeAgentRecord(r *AgentRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRecordAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.Address)
	b = protowire.AppendTag(b, fieldRecordPublicKey, protowire.BytesType)
	b = protowire.AppendString(b, r.PublicKey)
	b = protowire.AppendTag(b, fieldRecordRepresentKey, protowire.BytesType)
	b = protowire.AppendString(b, r.RepresentativePublicKey)
	b = protowire.AppendTag(b, fieldRecordMessageFormat, protowire.BytesType)
	b = protowire.AppendString(b, r.MessageFormat)
	b = protowire.AppendTag(b, fieldRecordSignature, protowire.BytesType)
	b = protowire.AppendString(b, r.Signature)
	b = protowire.AppendTag(b, fieldRecordLedgerID, protowire.BytesType)
	b = protowire.AppendString(b, r.LedgerID)
	b = protowire.AppendTag(b, fieldRecordNotBefore, protowire.BytesType)
	b = protowire.AppendString(b, r.NotBefore.UTC().Format(time.RFC3339))
	b = protowire.AppendTag(b, fieldRecordNotAfter, protowire.BytesType)
	b = protowire.AppendString(b, r.NotAfter.UTC().Format(time.RFC3339))
	return b
}

func decodeAgentRecord(data []byte) (*AgentRecord, error) {
	r := &AgentRecord{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.New("acn: malformed agent record tag")
		}
		data = data[n:]
		switch num {
		case fieldRecordAddress:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed address")
			}
			r.Address = v
			data = data[m:]
		case fieldRecordPublicKey:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed public key")
			}
			r.PublicKey = v
			data = data[m:]
		case fieldRecordRepresentKey:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed representative public key")
			}
			r.RepresentativePublicKey = v
			data = data[m:]
		case fieldRecordMessageFormat:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed message format")
			}
			r.MessageFormat = v
			data = data[m:]
		case fieldRecordSignature:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed signature")
			}
			r.Signature = v
			data = data[m:]
		case fieldRecordLedgerID:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed ledger id")
			}
			r.LedgerID = v
			data = data[m:]
		case fieldRecordNotBefore:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed not_before")
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, errors.Wrap(err, "acn: malformed not_before timestamp")
			}
			r.NotBefore = t
			data = data[m:]
		case fieldRecordNotAfter:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed not_after")
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, errors.Wrap(err, "acn: malformed not_after timestamp")
			}
			r.NotAfter = t
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, errors.New("acn: malformed unknown field in agent record")
			}
			data = data[m:]
		}
	}
	return r, nil
}

func encodeStatus(s *StatusMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStatusCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(s.Code)))
	for _, msg := range s.Msgs {
		b = protowire.AppendTag(b, fieldStatusMsgs, protowire.BytesType)
		b = protowire.AppendString(b, msg)
	}
	return b
}

func decodeStatus(data []byte) (*StatusMessage, error) {
	s := &StatusMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.New("acn: malformed status tag")
		}
		data = data[n:]
		switch num {
		case fieldStatusCode:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, errors.New("acn: malformed status code")
			}
			s.Code = ErrCode(int32(v))
			data = data[m:]
		case fieldStatusMsgs:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed status message")
			}
			s.Msgs = append(s.Msgs, v)
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, errors.New("acn: malformed unknown field in status")
			}
			data = data[m:]
		}
	}
	return s, nil
}

func encodeEnvelopePerformative(e *EnvelopePerformative) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEnvPerfEnvelope, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Envelope)
	if e.Record != nil {
		b = protowire.AppendTag(b, fieldEnvPerfRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAgentRecord(e.Record))
	}
	return b
}

func decodeEnvelopePerformative(data []byte) (*EnvelopePerformative, error) {
	e := &EnvelopePerformative{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.New("acn: malformed envelope performative tag")
		}
		data = data[n:]
		switch num {
		case fieldEnvPerfEnvelope:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed envelope bytes")
			}
			e.Envelope = append([]byte(nil), v...)
			data = data[m:]
		case fieldEnvPerfRecord:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed embedded record")
			}
			rec, err := decodeAgentRecord(v)
			if err != nil {
				return nil, err
			}
			e.Record = rec
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, errors.New("acn: malformed unknown field in envelope performative")
			}
			data = data[m:]
		}
	}
	return e, nil
}

// MarshalControlMessage encodes msg to its wire form, hand-rolled on
// protowire exactly as the envelope codec is (no protoc is available to
// generate the AcnMessage oneof).
func MarshalControlMessage(msg *ControlMessage) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.BytesType)
	version := msg.Version
	if version == "" {
		version = ACNProtocolVersion
	}
	b = protowire.AppendString(b, version)

	switch {
	case msg.Register != nil:
		b = protowire.AppendTag(b, fieldRegister, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAgentRecord(msg.Register))
	case msg.LookupRequest != "":
		b = protowire.AppendTag(b, fieldLookupRequest, protowire.BytesType)
		b = protowire.AppendString(b, msg.LookupRequest)
	case msg.LookupResponse != nil:
		b = protowire.AppendTag(b, fieldLookupResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeAgentRecord(msg.LookupResponse))
	case msg.Envelope != nil:
		b = protowire.AppendTag(b, fieldEnvelope, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeEnvelopePerformative(msg.Envelope))
	case msg.Status != nil:
		b = protowire.AppendTag(b, fieldStatus, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeStatus(msg.Status))
	default:
		return nil, errors.New("acn: control message has no performative set")
	}
	return b, nil
}

// UnmarshalControlMessage decodes a ControlMessage from its wire form.
func UnmarshalControlMessage(data []byte) (*ControlMessage, error) {
	msg := &ControlMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.New("acn: malformed control message tag")
		}
		data = data[n:]
		switch num {
		case fieldVersion:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed version")
			}
			msg.Version = v
			data = data[m:]
		case fieldRegister:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed register payload")
			}
			rec, err := decodeAgentRecord(v)
			if err != nil {
				return nil, err
			}
			msg.Register = rec
			data = data[m:]
		case fieldLookupRequest:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, errors.New("acn: malformed lookup request")
			}
			msg.LookupRequest = v
			data = data[m:]
		case fieldLookupResponse:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed lookup response")
			}
			rec, err := decodeAgentRecord(v)
			if err != nil {
				return nil, err
			}
			msg.LookupResponse = rec
			data = data[m:]
		case fieldEnvelope:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed envelope payload")
			}
			perf, err := decodeEnvelopePerformative(v)
			if err != nil {
				return nil, err
			}
			msg.Envelope = perf
			data = data[m:]
		case fieldStatus:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("acn: malformed status payload")
			}
			status, err := decodeStatus(v)
			if err != nil {
				return nil, err
			}
			msg.Status = status
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, errors.New("acn: malformed unknown field in control message")
			}
			data = data[m:]
		}
	}
	return msg, nil
}

// UnmarshalStatusMessage decodes a wire ControlMessage and requires it to
// carry a Status performative, the shape the delegate/relay registration
// handshake always responds with.
func UnmarshalStatusMessage(data []byte) (*StatusMessage, error) {
	msg, err := UnmarshalControlMessage(data)
	if err != nil {
		return nil, err
	}
	if msg.Status == nil {
		return nil, errors.New("acn: expected a status control message")
	}
	return msg.Status, nil
}
