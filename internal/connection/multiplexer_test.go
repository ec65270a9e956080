package connection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
)

// fakeConnection is an in-memory Connection double used to exercise the
// Multiplexer's routing and lifecycle without real sockets.
type fakeConnection struct {
	id string

	mu        sync.Mutex
	connected bool
	sent      []*protocol.Envelope
	inbound   chan *protocol.Envelope
	failSend  bool
}

func newFakeConnection(id string) *fakeConnection {
	return &fakeConnection{id: id, inbound: make(chan *protocol.Envelope, 10)}
}

func (f *fakeConnection) ID() string { return f.id }

func (f *fakeConnection) Connect(context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConnection) Disconnect(context.Context) error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeConnection) Send(_ context.Context, env *protocol.Envelope) error {
	if f.failSend {
		return context.DeadlineExceeded
	}
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeConnection) Receive(ctx context.Context) (*protocol.Envelope, error) {
	select {
	case env := <-f.inbound:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConnection) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnection) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testEnvelope(to string, ctx protocol.Context) *protocol.Envelope {
	return &protocol.Envelope{
		To:         to,
		Sender:     "fetch1sender",
		ProtocolID: protocol.ProtocolID{Author: "fetchai", Name: "default", Version: "0.1.0"},
		Message:    []byte("hello"),
		Context:    ctx,
	}
}

func TestMultiplexerRoutesToDefaultConnection(t *testing.T) {
	inbox := queue.New(10)
	outbox := queue.NewOutbox(10, func() protocol.Address { return "fetch1sender" })
	mux := NewMultiplexer(inbox, outbox, zerolog.Nop())

	conn := newFakeConnection("conn-a")
	mux.AddConnection(conn, PolicyJustLog)

	ctx := context.Background()
	if err := mux.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer mux.Disconnect(ctx)

	if err := outbox.Put(ctx, testEnvelope("fetch1dest", protocol.Context{})); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for conn.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("envelope was never dispatched to the default connection")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestMultiplexerRoutesByExplicitConnectionID(t *testing.T) {
	inbox := queue.New(10)
	outbox := queue.NewOutbox(10, func() protocol.Address { return "fetch1sender" })
	mux := NewMultiplexer(inbox, outbox, zerolog.Nop())

	connA := newFakeConnection("conn-a")
	connB := newFakeConnection("conn-b")
	mux.AddConnection(connA, PolicyJustLog)
	mux.AddConnection(connB, PolicyJustLog)

	ctx := context.Background()
	if err := mux.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer mux.Disconnect(ctx)

	if err := outbox.Put(ctx, testEnvelope("fetch1dest", protocol.Context{ConnectionID: "conn-b"})); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for connB.sentCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("envelope was never routed to the explicitly named connection")
		case <-time.After(time.Millisecond):
		}
	}
	if connA.sentCount() != 0 {
		t.Fatal("envelope should not have been sent on the unrelated connection")
	}
}

func TestMultiplexerReceiveLoopFillsInbox(t *testing.T) {
	inbox := queue.New(10)
	outbox := queue.NewOutbox(10, func() protocol.Address { return "fetch1sender" })
	mux := NewMultiplexer(inbox, outbox, zerolog.Nop())

	conn := newFakeConnection("conn-a")
	mux.AddConnection(conn, PolicyJustLog)

	ctx := context.Background()
	if err := mux.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer mux.Disconnect(ctx)

	conn.inbound <- testEnvelope("fetch1me", protocol.Context{})

	env, err := inbox.Get(time.Second)
	if err != nil {
		t.Fatalf("expected inbound envelope to reach the inbox: %v", err)
	}
	if env.To != "fetch1me" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
