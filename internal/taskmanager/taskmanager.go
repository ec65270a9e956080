// Package taskmanager implements the Task Manager: a bounded worker pool
// that accepts opaque callables submitted from skill handlers and returns a
// handle through which the caller can await the result, per spec.md §5.
// It generalizes the teacher's goroutine-per-accepted-stream concurrency
// style (libp2p_node/dht/dhtpeer, which synchronizes on shared tables via
// mutexes rather than a bounded pool) into an explicit, capacity-limited
// worker pool so handler-submitted work cannot unboundedly spawn
// goroutines.
package taskmanager

import (
	"context"
	"sync"

	"github.com/aea-network/aea/internal/aeaerr"
)

// Task is an opaque unit of work submitted by a handler.
type Task func(ctx context.Context) (interface{}, error)

// Handle is returned by Submit; Result blocks until the task completes.
type Handle struct {
	result chan taskResult
	once   sync.Once
	cached taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// Result blocks until the task finishes and returns its (value, error). It
// may be called more than once; the result is cached after the first call.
func (h *Handle) Result(ctx context.Context) (interface{}, error) {
	h.once.Do(func() {
		select {
		case h.cached = <-h.result:
		case <-ctx.Done():
			h.cached = taskResult{err: ctx.Err()}
		}
	})
	return h.cached.value, h.cached.err
}

// Manager is a bounded worker pool: a fixed number of goroutines pull
// queued Tasks and run them, handing the result back through the
// submitter's Handle.
type Manager struct {
	jobs chan job

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

type job struct {
	task   Task
	handle *Handle
}

// New starts a Manager with the given number of worker goroutines and a
// queue depth of queueSize pending submissions.
func New(workers, queueSize int) *Manager {
	m := &Manager{jobs: make(chan job, queueSize), running: true}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for j := range m.jobs {
		value, err := j.task(context.Background())
		j.handle.result <- taskResult{value: value, err: err}
	}
}

// Submit enqueues task and returns a Handle for its eventual result. It
// fails with NotRunning once the pool has been torn down via Stop, per
// spec.md §5.
func (m *Manager) Submit(task Task) (*Handle, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil, aeaerr.New(aeaerr.KindNotRunning, "taskmanager: pool is not running")
	}
	m.mu.Unlock()

	h := &Handle{result: make(chan taskResult, 1)}
	m.jobs <- job{task: task, handle: h}
	return h, nil
}

// Stop closes the job queue and waits for every worker to drain and exit.
// Any Submit call after Stop fails with NotRunning.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()
	close(m.jobs)
	m.wg.Wait()
}
