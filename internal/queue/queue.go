// Package queue serializes operations per session through a single FIFO
// worker, so two CDP calls issued concurrently for the same session never
// race against each other on the same tab (spec §4.7).
package queue

import (
	"context"
	"sync"
	"time"

	"openchrome/internal/core"
)

// DefaultTimeout is applied to an item when Enqueue is called without an
// explicit per-item timeout.
const DefaultTimeout = 120 * time.Second

type item struct {
	fn        func(ctx context.Context) (any, error)
	timeout   time.Duration
	resultC   chan result
	enqueued  time.Time
}

type result struct {
	value any
	err   error
}

// Hooks receives per-item queue events for metrics recording. Satisfied by
// *pkg/metrics.QueueHooks without this package importing pkg/metrics.
type Hooks interface {
	OnDequeue(wait time.Duration)
	OnTimeout()
}

// Queue is a single session's FIFO work queue.
type Queue struct {
	items  chan *item
	cancel context.CancelFunc
	done   chan struct{}
	hooks  Hooks
}

func newQueue(parent context.Context, hooks Hooks) *Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		items:  make(chan *item, 256),
		cancel: cancel,
		done:   make(chan struct{}),
		hooks:  hooks,
	}
	go q.run(ctx)
	return q
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		// Checked ahead of select so a cancellation that landed while the
		// previous item was executing drains everything still queued
		// instead of racing select's pseudo-random case choice against a
		// buffered item that arrived before the cancellation.
		if ctx.Err() != nil {
			q.drain(core.NewError(core.KindQueueCancelled, "queue cleared"))
			return
		}
		select {
		case <-ctx.Done():
			q.drain(core.NewError(core.KindQueueCancelled, "queue cleared"))
			return
		case it := <-q.items:
			q.execute(ctx, it)
		}
	}
}

func (q *Queue) execute(ctx context.Context, it *item) {
	if q.hooks != nil {
		q.hooks.OnDequeue(time.Since(it.enqueued))
	}

	timeout := it.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := it.fn(cctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		it.resultC <- result{o.value, o.err}
	case <-cctx.Done():
		if q.hooks != nil {
			q.hooks.OnTimeout()
		}
		it.resultC <- result{nil, core.NewError(core.KindQueueTimeout, "queue item timed out")}
		// The goroutine running it.fn may still be in flight; let it finish
		// in the background since cctx has already been cancelled and its
		// result is discarded once done fires.
		go func() { <-done }()
	}
}

// drain rejects every item still sitting in the channel with err, used
// during teardown (Clear) so nothing is left to time out slowly instead.
func (q *Queue) drain(err error) {
	for {
		select {
		case it := <-q.items:
			it.resultC <- result{nil, err}
		default:
			return
		}
	}
}

// Future is the handle returned by Enqueue.
type Future struct {
	resultC chan result
}

// Wait blocks until the enqueued item settles and returns its value/error.
func (f *Future) Wait() (any, error) {
	r := <-f.resultC
	return r.value, r.err
}

// Enqueue appends fn to the queue's FIFO and returns a Future for its
// eventual result. timeout <= 0 uses DefaultTimeout.
func (q *Queue) Enqueue(fn func(ctx context.Context) (any, error), timeout time.Duration) *Future {
	it := &item{fn: fn, timeout: timeout, resultC: make(chan result, 1), enqueued: time.Now()}
	select {
	case q.items <- it:
	case <-q.done:
		it.resultC <- result{nil, core.NewError(core.KindQueueCancelled, "queue already closed")}
	}
	return &Future{resultC: it.resultC}
}

// Clear rejects all pending items with queue.cancelled and stops the
// worker; used during session teardown.
func (q *Queue) Clear() {
	q.cancel()
	<-q.done
}

// Depth returns the number of items currently waiting to run.
func (q *Queue) Depth() int {
	return len(q.items)
}

// Manager holds one Queue per session, created lazily on first use.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*Queue
	hooks  Hooks
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*Queue)}
}

// SetHooks installs h on the Manager; every queue created afterward (via
// For) reports through it.
func (m *Manager) SetHooks(h Hooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// For returns the queue for session, creating it if this is the first call
// for that session id.
func (m *Manager) For(session string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[session]
	if !ok {
		q = newQueue(context.Background(), m.hooks)
		m.queues[session] = q
	}
	return q
}

// TotalDepth sums the pending-item count across every session's queue, a
// coarse signal for how backed up the worker pool is as a whole.
func (m *Manager) TotalDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, q := range m.queues {
		total += q.Depth()
	}
	return total
}

// Count returns the number of sessions with a live queue.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}

// Remove clears and drops session's queue.
func (m *Manager) Remove(session string) {
	m.mu.Lock()
	q, ok := m.queues[session]
	delete(m.queues, session)
	m.mu.Unlock()
	if ok {
		q.Clear()
	}
}
