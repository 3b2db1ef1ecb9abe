// Package job defines the persisted invocation record and its lifecycle.
//
// A Job is a concrete invocation of a registered task with fixed arguments
// and execution parameters. The queue backend owns the record until a worker
// acquires it, the worker owns it until completion, and the result backend
// owns the terminal record.
package job

import (
	"time"

	"github.com/nahom-zewdu/Nuvom/id"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is visible in the queue.
	StatusPending Status = "PENDING"
	// StatusRunning means a worker holds the lease and is executing.
	StatusRunning Status = "RUNNING"
	// StatusSuccess means the job finished and its result is persisted.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed means the job failed terminally.
	StatusFailed Status = "FAILED"
	// StatusTimeout means the job exceeded its wall-clock limit terminally.
	StatusTimeout Status = "TIMEOUT"
	// StatusCancelled means the job was cancelled before it started.
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether the status may never be replaced.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// TimeoutPolicy governs the decision after a job exceeds its wall-clock
// limit.
type TimeoutPolicy string

const (
	// PolicyRetry consumes a retry on timeout, if any remain.
	PolicyRetry TimeoutPolicy = "retry"
	// PolicyFail treats a timeout as a terminal failure.
	PolicyFail TimeoutPolicy = "fail"
	// PolicyIgnore acks the job and records the timeout without retrying.
	PolicyIgnore TimeoutPolicy = "ignore"
)

// Attempt records one execution of a job.
type Attempt struct {
	StartedAt  time.Time `msgpack:"started_at"`
	FinishedAt time.Time `msgpack:"finished_at"`
	Outcome    Status    `msgpack:"outcome"`
	Error      string    `msgpack:"error,omitempty"`
	Traceback  string    `msgpack:"traceback,omitempty"`
}

// Job is a durable task invocation.
//
// RetriesLeft is monotonically non-increasing and never exceeds MaxRetries.
// A Timeout of zero means the runtime default applies; an empty
// TimeoutPolicy likewise.
type Job struct {
	ID            string         `msgpack:"id"`
	FuncName      string         `msgpack:"func_name"`
	Args          []any          `msgpack:"args"`
	Kwargs        map[string]any `msgpack:"kwargs"`
	RetriesLeft   int            `msgpack:"retries_left"`
	MaxRetries    int            `msgpack:"max_retries"`
	RetryDelay    time.Duration  `msgpack:"retry_delay"`
	Timeout       time.Duration  `msgpack:"timeout"`
	TimeoutPolicy TimeoutPolicy  `msgpack:"timeout_policy"`
	StoreResult   bool           `msgpack:"store_result"`
	CreatedAt     time.Time      `msgpack:"created_at"`
	EnqueuedAt    time.Time      `msgpack:"enqueued_at"`
	StartedAt     time.Time      `msgpack:"started_at"`
	FinishedAt    time.Time      `msgpack:"finished_at"`
	Attempts      []Attempt      `msgpack:"attempts"`
	Status        Status         `msgpack:"status"`
	Tags          []string       `msgpack:"tags,omitempty"`
	Description   string         `msgpack:"description,omitempty"`
}

// New creates a pending job for the named task. The ID is generated at
// submission and is stable for the job's whole lifetime.
func New(funcName string, args []any, kwargs map[string]any, opts ...Option) *Job {
	j := &Job{
		ID:          id.NewJobID().String(),
		FuncName:    funcName,
		Args:        args,
		Kwargs:      kwargs,
		StoreResult: true,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusPending,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// MarkEnqueued stamps the enqueue transition.
func (j *Job) MarkEnqueued() {
	j.EnqueuedAt = time.Now().UTC()
	j.Status = StatusPending
}

// MarkRunning stamps the start of an execution attempt.
func (j *Job) MarkRunning() {
	j.StartedAt = time.Now().UTC()
	j.Status = StatusRunning
}

// Finish stamps the terminal transition. It refuses to replace an existing
// terminal status.
func (j *Job) Finish(s Status) {
	if j.Status.Terminal() {
		return
	}
	j.FinishedAt = time.Now().UTC()
	j.Status = s
}

// CanRetry reports whether the retry budget allows another attempt.
func (j *Job) CanRetry() bool { return j.RetriesLeft > 0 }

// ConsumeRetry decrements the retry budget, never below zero.
func (j *Job) ConsumeRetry() {
	if j.RetriesLeft > 0 {
		j.RetriesLeft--
	}
}

// RecordAttempt appends an attempt record for the execution that started at
// startedAt and just finished with the given outcome.
func (j *Job) RecordAttempt(startedAt time.Time, outcome Status, errSummary, traceback string) {
	j.Attempts = append(j.Attempts, Attempt{
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Outcome:    outcome,
		Error:      errSummary,
		Traceback:  traceback,
	})
}

// Clone returns a deep copy. In-memory backends hand out clones so callers
// never share mutable state with the store.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Args != nil {
		cp.Args = make([]any, len(j.Args))
		copy(cp.Args, j.Args)
	}
	if j.Kwargs != nil {
		cp.Kwargs = make(map[string]any, len(j.Kwargs))
		for k, v := range j.Kwargs {
			cp.Kwargs[k] = v
		}
	}
	if j.Attempts != nil {
		cp.Attempts = make([]Attempt, len(j.Attempts))
		copy(cp.Attempts, j.Attempts)
	}
	if j.Tags != nil {
		cp.Tags = make([]string, len(j.Tags))
		copy(cp.Tags, j.Tags)
	}
	return &cp
}
