// Package queue defines the queue backend contract: enqueue, blocking
// dequeue, batched pop, and lease semantics for persistent backends.
//
// A successful dequeue transfers the job to an in-flight set. Persistent
// backends attach a visibility timeout to the transfer: a job that is not
// acknowledged within it returns to the pending set with its retry budget
// unchanged. Ack removes the in-flight entry on success or terminal
// failure; Nack returns it explicitly, optionally delayed and with an
// updated record.
package queue

import (
	"context"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
)

// Backend is the queue contract every backend implements.
type Backend interface {
	// Enqueue makes the job visible for dequeue. Callers must not
	// re-submit an id; idempotence on id is at the backend's discretion.
	Enqueue(ctx context.Context, j *job.Job) error

	// Dequeue blocks up to timeout for a single job. It returns (nil, nil)
	// when the wait expires with nothing available.
	Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error)

	// PopBatch returns up to n jobs without blocking. Order is arrival
	// order unless the backend documents otherwise; callers treat it as a
	// hint.
	PopBatch(ctx context.Context, n int) ([]*job.Job, error)

	// Ack acknowledges a dequeued job on success or terminal failure,
	// discarding its in-flight entry.
	Ack(ctx context.Context, id string) error

	// Nack returns a dequeued job to the pending set. The record j
	// replaces the held payload, so runner-side mutations (a consumed
	// retry, appended attempts) are durable. The job becomes visible
	// after delay.
	Nack(ctx context.Context, j *job.Job, delay time.Duration) error

	// Qsize returns the approximate pending count. It may be eventually
	// consistent.
	Qsize(ctx context.Context) (int, error)

	// Clear removes all pending jobs. Intended for tests.
	Clear(ctx context.Context) error

	// Close releases backend resources. Closing twice is a no-op.
	Close() error
}

// Factory builds a backend from the runtime configuration. Plugins
// register factories under a name; the engine resolves the configured name
// at startup.
type Factory func(cfg nuvom.Config) (Backend, error)
