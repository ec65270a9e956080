package connection

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/aea-network/aea/internal/acn"
	"github.com/aea-network/aea/internal/protocol"
)

// DelegateConnection is a non-libp2p-aware client of an ACN peer's delegate
// TCP service: it registers its own AgentRecord once connected and then
// exchanges framed envelopes, generalizing the teacher's P2PClientApi
// (p2pclient.go) into the Multiplexer's Connection interface.
type DelegateConnection struct {
	id     string
	socket Socket
	record *acn.AgentRecord

	mu        sync.Mutex
	connected bool
}

// NewDelegateConnection wires socket (typically a *TCPSocket dialing the
// peer's delegate URI) to the agent record that authorizes it.
func NewDelegateConnection(id string, socket Socket, record *acn.AgentRecord) *DelegateConnection {
	return &DelegateConnection{id: id, socket: socket, record: record}
}

func (d *DelegateConnection) ID() string { return d.id }

func (d *DelegateConnection) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Connect dials the socket and registers with the peer, retrying
// registration with bounded backoff exactly as the teacher's
// register_with_retry does.
func (d *DelegateConnection) Connect(ctx context.Context) error {
	if err := d.socket.Connect(); err != nil {
		return errors.Wrap(err, "while connecting delegate socket")
	}
	if err := retry(ctx, 10, 500*time.Millisecond, time.Second, d.register); err != nil {
		_ = d.socket.Disconnect()
		return errors.Wrap(err, "while registering with delegate service")
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *DelegateConnection) register() error {
	reg := acn.NewRegisterMessage(d.record)
	data, err := acn.MarshalControlMessage(reg)
	if err != nil {
		return errors.Wrap(err, "while encoding registration")
	}
	if err := d.socket.Write(data); err != nil {
		return errors.Wrap(err, "while writing registration")
	}
	resp, err := d.socket.Read()
	if err != nil {
		return errors.Wrap(err, "while reading registration response")
	}
	status, err := acn.UnmarshalStatusMessage(resp)
	if err != nil {
		return errors.Wrap(err, "while decoding registration response")
	}
	if !status.Success() {
		return errors.Errorf("registration rejected: %s", status.String())
	}
	return nil
}

func (d *DelegateConnection) Disconnect(_ context.Context) error {
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return d.socket.Disconnect()
}

func (d *DelegateConnection) Send(_ context.Context, env *protocol.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return errors.Wrap(err, "while encoding envelope")
	}
	wire, err := acn.MarshalControlMessage(acn.NewEnvelopeMessage(data, d.record))
	if err != nil {
		return errors.Wrap(err, "while encoding envelope message")
	}
	return d.socket.Write(wire)
}

// Receive blocks reading the next envelope off the socket, enforcing that
// its To address matches the registered agent, exactly as the teacher's
// listen_for_envelopes does.
func (d *DelegateConnection) Receive(_ context.Context) (*protocol.Envelope, error) {
	data, err := d.socket.Read()
	if err != nil {
		return nil, errors.Wrap(err, "while reading envelope")
	}
	msg, err := acn.UnmarshalControlMessage(data)
	if err != nil {
		return nil, errors.Wrap(err, "while decoding envelope message")
	}
	if msg.Envelope == nil {
		return nil, errors.New("delegate peer sent a non-envelope message")
	}
	env, err := protocol.Unmarshal(msg.Envelope.Envelope)
	if err != nil {
		return nil, errors.Wrap(err, "while decoding envelope")
	}
	if env.To != d.record.Address {
		return nil, errors.Errorf("envelope to %q does not match registered address %q", env.To, d.record.Address)
	}
	return env, nil
}
