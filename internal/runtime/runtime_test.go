package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aea-network/aea/internal/connection"
	"github.com/aea-network/aea/internal/protocol"
	"github.com/aea-network/aea/internal/queue"
	"github.com/aea-network/aea/internal/scheduler"
	"github.com/aea-network/aea/internal/skill"
)

func newTestRuntime(t *testing.T) (*Runtime, *queue.Envelope) {
	t.Helper()
	inbox := queue.New(10)
	outbox := queue.NewOutbox(10, func() protocol.Address { return "fetch1me" })
	mux := connection.NewMultiplexer(inbox, outbox, zerolog.Nop())

	registry := protocol.NewRegistry()
	echoID := protocol.ProtocolID{Author: "fetchai", Name: "echo", Version: "0.1.0"}
	registry.Register(echoID, &protocol.Codec{
		Decode: func(data []byte) (protocol.Message, error) { return testMsg{string(data)}, nil },
	})

	dispatcher := skill.NewDispatcher(registry, nil, zerolog.Nop())
	sched := scheduler.New(time.Now, zerolog.Nop())

	rt := New(sched, dispatcher, mux, inbox, zerolog.Nop())
	rt.Period = time.Millisecond
	return rt, inbox
}

type testMsg struct{ body string }

func (m testMsg) Performative() string { return "echo" }

func TestRuntimeLifecycleTransitions(t *testing.T) {
	rt, _ := newTestRuntime(t)
	ctx := context.Background()

	if rt.State() != StateStopped {
		t.Fatalf("expected initial state stopped, got %s", rt.State())
	}
	if err := rt.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if rt.State() != StateRunning {
		t.Fatalf("expected running after Start, got %s", rt.State())
	}
	if err := rt.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if rt.State() != StateStopped {
		t.Fatalf("expected stopped after Stop, got %s", rt.State())
	}
}

func TestRuntimeDrainsInboxUpToMaxReactions(t *testing.T) {
	rt, inbox := newTestRuntime(t)
	rt.MaxReactions = 2
	var dispatched int
	echoID := protocol.ProtocolID{Author: "fetchai", Name: "echo", Version: "0.1.0"}
	s := skill.NewSkill("counter")
	s.RegisterHandler(echoID, func(ctx context.Context, env *protocol.Envelope, m protocol.Message) error {
		dispatched++
		return nil
	})
	rt.dispatcher.AddSkill(s)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = inbox.Put(ctx, &protocol.Envelope{To: "fetch1me", Sender: "fetch1them", ProtocolID: echoID, Message: []byte("x")})
	}

	if err := rt.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := rt.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if dispatched == 0 {
		t.Fatal("expected at least one envelope to be dispatched")
	}
}
