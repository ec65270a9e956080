package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single framed payload to guard against a malicious
// or corrupt length prefix causing an unbounded allocation.
const MaxFrameSize = 3 * 1024 * 1024 // 3MB, matches the teacher's delegate connection cap

// WriteFrame writes a 4-byte big-endian length prefix followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return errors.New("protocol: frame exceeds maximum size")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "while writing frame length")
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "while writing frame body")
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "while reading frame length")
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return nil, errors.New("protocol: frame exceeds maximum size")
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, errors.Wrap(err, "while reading frame body")
		}
	}
	return buf, nil
}

// WriteEnvelope frames and writes a single envelope to w.
func WriteEnvelope(w io.Writer, env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return errors.Wrap(err, "while serializing envelope")
	}
	return WriteFrame(w, data)
}

// ReadEnvelope reads and decodes a single framed envelope from r.
func ReadEnvelope(r io.Reader) (*Envelope, error) {
	data, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
