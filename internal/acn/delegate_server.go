package acn

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aea-network/aea/internal/monitoring"
	"github.com/aea-network/aea/internal/protocol"
)

// delegateServer is the server side of the ACN delegate transport: a
// framed, self-signed-TLS TCP listener for clients that cannot speak
// libp2p directly, pairing with connection.DelegateConnection on the
// client side. Grounded on the teacher's
// DHTPeer.{makeSSLCertifiateAndSignature,launchDelegateService,handleDelegateService,
// handleNewDelegationConnection}.
type delegateServer struct {
	peer     *Peer
	listener net.Listener
	wg       sync.WaitGroup
}

// newDelegateServer generates a self-signed TLS certificate, starts
// listening on port and begins accepting connections in the background.
func newDelegateServer(peer *Peer, port uint16) (*delegateServer, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, errors.Wrap(err, "acn: while generating delegate tls certificate")
	}
	listener, err := tls.Listen("tcp", ":"+strconv.Itoa(int(port)), &tls.Config{Certificates: []tls.Certificate{*cert}})
	if err != nil {
		return nil, errors.Wrap(err, "acn: while starting delegate listener")
	}

	srv := &delegateServer{peer: peer, listener: listener}
	srv.wg.Add(1)
	go srv.acceptLoop()
	return srv, nil
}

func (s *delegateServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.peer.closing:
				return
			default:
				s.peer.logger.Error().Err(err).Msg("while accepting delegate connection")
				return
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *delegateServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

// delegateClientConn is a registered delegate client: its agent address,
// the underlying TCP connection and a write mutex (envelopes may be routed
// to it from multiple goroutines concurrently).
type delegateClientConn struct {
	address string
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *delegateClientConn) send(env *protocol.Envelope) error {
	envBytes, err := env.Marshal()
	if err != nil {
		return err
	}
	msg := NewEnvelopeMessage(envBytes, nil)
	wire, err := MarshalControlMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFramedConn(c.conn, wire)
}

// handleConnection performs the registration handshake (read Register,
// validate PoR, reply Status) and then loops forwarding envelopes the
// client sends toward their destination, per the teacher's
// handleNewDelegationConnection.
func (s *delegateServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	if s.peer.monitor != nil {
		start := s.peer.monitor.Timer().NewTimer()
		defer func() {
			if h, ok := s.peer.monitor.GetHistogram(monitoring.MetricOpLatencyRegister); ok {
				h.Observe(float64(s.peer.monitor.Timer().GetTimer(start).Microseconds()))
			}
		}()
	}

	data, err := readFramedConn(conn)
	if err != nil {
		s.peer.logger.Error().Err(err).Msg("while reading delegate registration request")
		return
	}
	msg, err := UnmarshalControlMessage(data)
	if err != nil || msg.Register == nil {
		s.peer.logger.Error().Err(err).Msg("delegate registration did not carry a Register performative")
		s.replyStatus(conn, NewStatusError(ErrDecode, "expected a register performative"))
		return
	}

	record := msg.Register
	representativeKey, err := s.peer.ownRepresentativeKey()
	if err != nil {
		s.replyStatus(conn, NewStatusError(ErrGeneric, "internal error"))
		return
	}
	if err := ValidatePoR(s.peer.crypto, record, record.Address, representativeKey, time.Now()); err != nil {
		s.peer.logger.Warn().Err(err).Str("addr", record.Address).Msg("rejected delegate registration: invalid proof of representation")
		s.replyStatus(conn, NewStatusError(ErrInvalidProof, err.Error()))
		return
	}
	s.replyStatus(conn, NewStatusSuccess())

	client := &delegateClientConn{address: record.Address, conn: conn}
	s.peer.delegateTableMu.Lock()
	s.peer.delegateTable[record.Address] = client
	s.peer.delegateTableMu.Unlock()
	s.peer.recordsMu.Lock()
	s.peer.records[record.Address] = record
	s.peer.recordsMu.Unlock()
	if s.peer.store != nil {
		if err := s.peer.store.Save(record); err != nil {
			s.peer.logger.Error().Err(err).Str("addr", record.Address).Msg("while persisting delegate client record")
		}
	}
	if s.peer.monitor != nil {
		if g, ok := s.peer.monitor.GetGauge(monitoring.MetricServiceDelegateClientsCount); ok {
			g.Inc()
		}
		if c, ok := s.peer.monitor.GetCounter(monitoring.MetricServiceDelegateClientsCountAll); ok {
			c.Inc()
		}
	}
	s.peer.logger.Info().Str("addr", record.Address).Str("remote", conn.RemoteAddr().String()).Msg("registered delegate client")

	defer func() {
		s.peer.delegateTableMu.Lock()
		delete(s.peer.delegateTable, record.Address)
		s.peer.delegateTableMu.Unlock()
		if s.peer.monitor != nil {
			if g, ok := s.peer.monitor.GetGauge(monitoring.MetricServiceDelegateClientsCount); ok {
				g.Dec()
			}
		}
		s.peer.logger.Info().Str("addr", record.Address).Msg("delegate client disconnected")
	}()

	for {
		data, err := readFramedConn(conn)
		if err != nil {
			if err != io.EOF {
				s.peer.logger.Error().Err(err).Str("addr", record.Address).Msg("while reading from delegate client")
			}
			return
		}
		msg, err := UnmarshalControlMessage(data)
		if err != nil || msg.Envelope == nil {
			s.peer.logger.Error().Err(err).Str("addr", record.Address).Msg("delegate client sent a non-envelope message")
			continue
		}
		env, err := protocol.Unmarshal(msg.Envelope.Envelope)
		if err != nil {
			s.peer.logger.Error().Err(err).Str("addr", record.Address).Msg("while decoding envelope from delegate client")
			continue
		}
		if env.Sender != record.Address {
			s.peer.logger.Error().Str("addr", record.Address).Str("sender", env.Sender).Msg("delegate envelope sender must match its registered address")
			client.writeMu.Lock()
			s.replyStatus(conn, NewStatusError(ErrSenderMismatch, "envelope sender does not match registered delegate address"))
			client.writeMu.Unlock()
			continue
		}

		if err := s.peer.routeEnvelope(context.Background(), env); err != nil {
			s.peer.logger.Error().Err(err).Str("addr", record.Address).Msg("while routing delegate client envelope")
		}
	}
}

func (s *delegateServer) replyStatus(conn net.Conn, status *StatusMessage) {
	wire, err := MarshalControlMessage(NewStatusMessage(status))
	if err != nil {
		s.peer.logger.Error().Err(err).Msg("while marshaling delegate status reply")
		return
	}
	if err := writeFramedConn(conn, wire); err != nil {
		s.peer.logger.Error().Err(err).Msg("while writing delegate status reply")
	}
}

func readFramedConn(conn net.Conn) ([]byte, error) {
	// Reads directly off conn rather than through a bufio.Reader: conn is a
	// long-lived connection read by repeated calls to this function, and a
	// fresh bufio.Reader per call would silently drop any bytes it buffered
	// past the current frame (the start of the next one) once discarded.
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(conn, prefix); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(prefix)
	if size > MaxStreamMessageSize {
		return nil, errors.New("acn: delegate frame exceeds maximum message size")
	}
	body := make([]byte, size)
	_, err := io.ReadFull(conn, body)
	return body, err
}

func writeFramedConn(conn net.Conn, data []byte) error {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(data)))
	if _, err := conn.Write(prefix); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

// generateSelfSignedCert builds a throw-away ECDSA certificate for the
// delegate TLS listener; clients authenticate the peer out-of-band via its
// Proof-of-Representation rather than the certificate chain, matching the
// teacher's generate_x509_cert.
func generateSelfSignedCert() (*tls.Certificate, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "while creating delegate tls private key")
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"ACN Peer"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, errors.Wrap(err, "while self-signing delegate tls certificate")
	}
	certPEM := pemEncode("CERTIFICATE", certDER)

	keyDER, err := x509.MarshalECPrivateKey(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "while marshaling delegate tls private key")
	}
	keyPEM := pemEncode("EC PRIVATE KEY", keyDER)

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

func pemEncode(blockType string, der []byte) []byte {
	var buf bytes.Buffer
	pem.Encode(&buf, &pem.Block{Type: blockType, Bytes: der})
	return buf.Bytes()
}
