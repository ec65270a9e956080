package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aea-network/aea/internal/protocol"
)

func sampleEnvelope(to string) *protocol.Envelope {
	return &protocol.Envelope{
		To:         to,
		Sender:     "sender",
		ProtocolID: protocol.ProtocolID{Author: "fetchai", Name: "fipa", Version: "1.0.0"},
		Message:    []byte{0x01},
	}
}

func TestQueuePutGetOrder(t *testing.T) {
	q := New(2)
	ctx := context.Background()
	if err := q.Put(ctx, sampleEnvelope("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.Put(ctx, sampleEnvelope("b")); err != nil {
		t.Fatal(err)
	}

	first, err := q.Get(time.Millisecond)
	if err != nil || first.To != "a" {
		t.Fatalf("expected 'a' first, got %+v err=%v", first, err)
	}
	second, err := q.Get(time.Millisecond)
	if err != nil || second.To != "b" {
		t.Fatalf("expected 'b' second, got %+v err=%v", second, err)
	}
}

func TestQueueGetEmptyTimesOut(t *testing.T) {
	q := New(1)
	_, err := q.Get(5 * time.Millisecond)
	if err != ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestQueueFullBlocksProducer(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Put(ctx, sampleEnvelope("a")); err != nil {
		t.Fatal(err)
	}

	putDone := make(chan error, 1)
	go func() {
		putDone <- q.Put(ctx, sampleEnvelope("b"))
	}()

	select {
	case <-putDone:
		t.Fatal("Put on a full queue should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := q.Get(time.Millisecond); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-putDone:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Put did not unblock after a slot freed up")
	}
}

func TestOutboxPutMessageStampsSender(t *testing.T) {
	ob := NewOutbox(1, func() protocol.Address { return "self-address" })
	pid := protocol.ProtocolID{Author: "fetchai", Name: "fipa", Version: "1.0.0"}
	if err := ob.PutMessageTimeout("peer", pid, []byte("hi"), protocol.Context{}, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	env, err := ob.Get(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if env.Sender != "self-address" || env.To != "peer" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
