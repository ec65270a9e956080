package protocol

import (
	"sync"

	"github.com/aea-network/aea/internal/aeaerr"
)

// Message is the decoded form of a protocol payload. Concrete protocol
// codecs (FIPA, HTTP, state-update, ...) are external collaborators; the
// registry and dispatcher only depend on this interface.
type Message interface {
	Performative() string
}

// Codec decodes/encodes the opaque bytes of one protocol's wire format.
type Codec struct {
	Decode        func(data []byte) (Message, error)
	Encode        func(msg Message) ([]byte, error)
	Performatives map[string]struct{}
}

// Registry maps a protocol id to its Codec. It is read far more often than
// written (write happens once at skill-load time), so it is guarded by an
// RWMutex.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]*Codec
}

// NewRegistry returns an empty protocol registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]*Codec)}
}

// Register adds (or replaces) the codec for a protocol id.
func (r *Registry) Register(id ProtocolID, codec *Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[id.String()] = codec
}

// Lookup returns the codec registered for id, or UnsupportedProtocol.
func (r *Registry) Lookup(id ProtocolID) (*Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, ok := r.codecs[id.String()]
	if !ok {
		return nil, aeaerr.New(aeaerr.KindUnsupportedProto, "no codec registered for protocol "+id.String())
	}
	return codec, nil
}

// Decode looks up the protocol id's codec and decodes data with it.
func (r *Registry) Decode(id ProtocolID, data []byte) (Message, error) {
	codec, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	msg, err := codec.Decode(data)
	if err != nil {
		return nil, aeaerr.Wrap(aeaerr.KindDecoding, err, "while decoding message for protocol "+id.String())
	}
	return msg, nil
}
