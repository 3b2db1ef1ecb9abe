// Package memqueue provides the in-memory queue backend: a bounded FIFO
// guarded by a mutex and a condition variable. No persistence, no
// visibility timeout — intended for tests and single-process ephemeral
// use. Ack discards the in-flight entry; Nack re-enqueues it so retries
// behave identically across backends.
package memqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/queue"
)

var _ queue.Backend = (*Queue)(nil)

// Queue is a bounded in-memory FIFO.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    []*job.Job
	inflight map[string]*job.Job
	maxSize  int
	closed   bool
}

// New creates a queue bounded at maxSize. Zero means unbounded.
func New(maxSize int) *Queue {
	q := &Queue{
		inflight: make(map[string]*job.Job),
		maxSize:  maxSize,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue implements queue.Backend.
func (q *Queue) Enqueue(_ context.Context, j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nuvom.ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return fmt.Errorf("%w: %d pending", nuvom.ErrQueueFull, len(q.items))
	}
	if j.EnqueuedAt.IsZero() {
		j.MarkEnqueued()
	}
	q.items = append(q.items, j.Clone())
	q.notEmpty.Signal()
	return nil
}

// Dequeue implements queue.Backend. It blocks up to timeout using a timed
// condition wait: a timer broadcast wakes the waiter when the deadline
// passes with the queue still empty.
func (q *Queue) Dequeue(_ context.Context, timeout time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil, nuvom.ErrQueueClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.AfterFunc(remaining, q.notEmpty.Broadcast)
		q.notEmpty.Wait()
		timer.Stop()
	}
	return q.popLocked(), nil
}

// PopBatch implements queue.Backend.
func (q *Queue) PopBatch(_ context.Context, n int) ([]*job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nuvom.ErrQueueClosed
	}
	var jobs []*job.Job
	for len(jobs) < n && len(q.items) > 0 {
		jobs = append(jobs, q.popLocked())
	}
	return jobs, nil
}

// popLocked removes the head item and records it in-flight. Callers hold
// the mutex.
func (q *Queue) popLocked() *job.Job {
	j := q.items[0]
	q.items = q.items[1:]
	q.inflight[j.ID] = j
	return j.Clone()
}

// Ack implements queue.Backend.
func (q *Queue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)
	return nil
}

// Nack implements queue.Backend. With no delay the job re-enters the tail
// immediately; a delayed nack re-enqueues from a timer.
func (q *Queue) Nack(_ context.Context, j *job.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, held := q.inflight[j.ID]; !held {
		return fmt.Errorf("%w: %s not in flight", nuvom.ErrJobNotFound, j.ID)
	}
	delete(q.inflight, j.ID)

	cp := j.Clone()
	if delay <= 0 {
		q.items = append(q.items, cp)
		q.notEmpty.Signal()
		return nil
	}

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.closed {
			return
		}
		q.items = append(q.items, cp)
		q.notEmpty.Signal()
	})
	return nil
}

// Qsize implements queue.Backend.
func (q *Queue) Qsize(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

// Clear implements queue.Backend.
func (q *Queue) Clear(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return nil
}

// Close implements queue.Backend. Waiters are woken and observe
// ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.notEmpty.Broadcast()
	return nil
}

// Factory builds memory queues from the runtime configuration.
func Factory(cfg nuvom.Config) (queue.Backend, error) {
	return New(cfg.QueueMaxSize), nil
}
