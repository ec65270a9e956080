// Package queue implements the bounded, concurrent-safe Inbox/Outbox FIFOs
// that bridge connections and the agent loop. The teacher's aealite and
// libp2p_node packages thread an unbuffered-ish buffered channel
// (out_queue := make(chan *Envelope, 10)) between a receive goroutine and
// the consumer; this generalizes that pattern into a reusable queue type
// with the put/get/empty/async_wait capability spec.md §4.2 requires.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/aea-network/aea/internal/protocol"
)

// ErrEmpty is returned by Get when no envelope is available within the
// given timeout.
var ErrEmpty = errors.New("queue: empty")

// Envelope is a bounded FIFO of envelopes, safe for concurrent
// producers/consumers.
type Envelope struct {
	ch chan *protocol.Envelope
}

// New returns an Envelope queue with the given capacity.
func New(capacity int) *Envelope {
	return &Envelope{ch: make(chan *protocol.Envelope, capacity)}
}

// Put enqueues env, blocking the caller if the queue is full.
func (q *Envelope) Put(ctx context.Context, env *protocol.Envelope) error {
	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutNonBlocking enqueues env without blocking; it returns false if the
// queue was full.
func (q *Envelope) PutNonBlocking(env *protocol.Envelope) bool {
	select {
	case q.ch <- env:
		return true
	default:
		return false
	}
}

// Get dequeues the next envelope, waiting up to timeout. A timeout of zero
// polls without blocking.
func (q *Envelope) Get(timeout time.Duration) (*protocol.Envelope, error) {
	if timeout <= 0 {
		select {
		case env := <-q.ch:
			return env, nil
		default:
			return nil, ErrEmpty
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case env := <-q.ch:
		return env, nil
	case <-t.C:
		return nil, ErrEmpty
	}
}

// Empty reports, without blocking, whether the queue currently has no
// envelopes available. It is racy by nature (another goroutine may add or
// remove an element immediately after the check returns) but is sufficient
// for the agent loop's per-tick budget decisions, which re-check on every
// iteration.
func (q *Envelope) Empty() bool {
	return len(q.ch) == 0
}

// Len returns the number of envelopes currently buffered.
func (q *Envelope) Len() int {
	return len(q.ch)
}

// AsyncWait returns a channel that is readable as soon as at least one
// envelope is available, without removing it from the queue. It polls Len()
// rather than consuming from the channel, so it never disturbs ordering.
func (q *Envelope) AsyncWait(ctx context.Context) <-chan struct{} {
	ready := make(chan struct{}, 1)
	if q.Len() > 0 {
		ready <- struct{}{}
		return ready
	}
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q.Len() > 0 {
					ready <- struct{}{}
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ready
}
