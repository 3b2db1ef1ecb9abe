// Package result defines the result backend contract: persistence of
// terminal job records — success values, failures with tracebacks, and
// the metadata needed to inspect a job after the fact.
package result

import (
	"context"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
)

// Record is the complete persisted metadata for a finished job.
type Record struct {
	ID           string        `msgpack:"id"`
	FuncName     string        `msgpack:"func_name"`
	Status       job.Status    `msgpack:"status"`
	Result       any           `msgpack:"result,omitempty"`
	ErrorSummary string        `msgpack:"error_summary,omitempty"`
	Traceback    string        `msgpack:"traceback,omitempty"`
	Attempts     []job.Attempt `msgpack:"attempts,omitempty"`
	RetriesLeft  int           `msgpack:"retries_left"`
	MaxRetries   int           `msgpack:"max_retries"`
	CreatedAt    time.Time     `msgpack:"created_at"`
	StartedAt    time.Time     `msgpack:"started_at"`
	FinishedAt   time.Time     `msgpack:"finished_at"`
	Tags         []string      `msgpack:"tags,omitempty"`
	Description  string        `msgpack:"description,omitempty"`
}

// Summary is a listing row: enough to render history without decoding the
// full record.
type Summary struct {
	ID         string
	FuncName   string
	Status     job.Status
	FinishedAt time.Time
}

// Filter narrows ListJobs. A zero Filter returns everything.
type Filter struct {
	// Status keeps only records in the given state. Empty keeps all.
	Status job.Status
	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// Backend is the result-store contract. All operations are keyed by job
// id; terminal records are immutable once written.
type Backend interface {
	// SetResult persists a terminal success.
	SetResult(ctx context.Context, j *job.Job, value any) error

	// SetError persists a terminal failure.
	SetError(ctx context.Context, j *job.Job, errSummary, traceback string) error

	// GetResult returns the stored success value, or nil when the job has
	// no successful record.
	GetResult(ctx context.Context, id string) (any, error)

	// GetError returns the stored failure summary, or "" when the job has
	// no failed record.
	GetError(ctx context.Context, id string) (string, error)

	// GetFull returns the complete metadata record, or nil when unknown.
	GetFull(ctx context.Context, id string) (*Record, error)

	// ListJobs returns summaries, newest-first by FinishedAt.
	ListJobs(ctx context.Context, f Filter) ([]Summary, error)

	// Close releases backend resources.
	Close() error
}

// Factory builds a backend from the runtime configuration.
type Factory func(cfg nuvom.Config) (Backend, error)

// FromJob builds the record for a finished job. The terminal fields
// (status, result, error) are supplied by the caller.
func FromJob(j *job.Job, value any, errSummary, traceback string) *Record {
	return &Record{
		ID:           j.ID,
		FuncName:     j.FuncName,
		Status:       j.Status,
		Result:       value,
		ErrorSummary: errSummary,
		Traceback:    traceback,
		Attempts:     append([]job.Attempt(nil), j.Attempts...),
		RetriesLeft:  j.RetriesLeft,
		MaxRetries:   j.MaxRetries,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		Tags:         append([]string(nil), j.Tags...),
		Description:  j.Description,
	}
}
