// Package connection implements the Connection Multiplexer: a polymorphic
// connection abstraction with connect/disconnect/send/receive, a framed TCP
// socket for the ACN delegate transport, and the multiplexer owning their
// lifecycle and outbound routing rule, generalizing the teacher's
// aealite/connections package (tcpsocket.go, p2pclient.go).
package connection

import (
	"crypto/tls"
	"encoding/binary"
	"strconv"

	"github.com/pkg/errors"
)

// MaxFrameSize bounds a single socket frame, matching the ACN envelope wire
// format's own cap.
const MaxFrameSize = 3 * 1024 * 1024

// Socket is the framed byte-stream transport beneath a Connection, matching
// the teacher's connections.Socket interface (tcpsocket.go).
type Socket interface {
	Connect() error
	Read() ([]byte, error)
	Write(data []byte) error
	Disconnect() error
}

// TCPSocket is a length-prefixed TLS socket, generalizing the teacher's
// TCPSocketChannel (used by the delegate client to reach a non-libp2p-aware
// ACN peer). InsecureSkipVerify mirrors the teacher's own delegate socket,
// which authenticates the peer out-of-band via the PoR rather than the TLS
// certificate chain.
type TCPSocket struct {
	address string
	port    uint16
	conn    *tls.Conn
}

// NewTCPSocket returns a Socket dialing address:port on first Connect.
func NewTCPSocket(address string, port uint16) *TCPSocket {
	return &TCPSocket{address: address, port: port}
}

func (s *TCPSocket) Connect() error {
	conf := &tls.Config{InsecureSkipVerify: true} //nolint:gosec // peer identity is authenticated via PoR, not the cert chain
	conn, err := tls.Dial("tcp", s.address+":"+strconv.FormatUint(uint64(s.port), 10), conf)
	if err != nil {
		return errors.Wrap(err, "while dialing delegate socket")
	}
	s.conn = conn
	return nil
}

func (s *TCPSocket) Read() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := readFull(s.conn, header); err != nil {
		return nil, errors.Wrap(err, "while reading frame header")
	}
	size := binary.BigEndian.Uint32(header)
	if size > MaxFrameSize {
		return nil, errors.Errorf("frame of %d bytes exceeds max size %d", size, MaxFrameSize)
	}
	buf := make([]byte, size)
	if _, err := readFull(s.conn, buf); err != nil {
		return nil, errors.Wrap(err, "while reading frame body")
	}
	return buf, nil
}

func (s *TCPSocket) Write(data []byte) error {
	if len(data) > MaxFrameSize {
		return errors.Errorf("frame of %d bytes exceeds max size %d", len(data), MaxFrameSize)
	}
	header := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	_, err := s.conn.Write(append(header, data...))
	return errors.Wrap(err, "while writing frame")
}

func (s *TCPSocket) Disconnect() error {
	return s.conn.Close()
}

type reader interface {
	Read(p []byte) (int, error)
}

func readFull(r reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
