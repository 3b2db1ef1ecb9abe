// Package task defines registered callables and the process-wide registry
// that resolves job func_names to them.
package task

import (
	"context"
	"time"

	"github.com/nahom-zewdu/Nuvom/job"
)

// Handler is the callable a task executes. It receives the job's positional
// and named arguments and returns the result value persisted on success.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Hooks are optional per-task lifecycle callbacks. Hook errors are logged
// by the runner and never abort the job.
type Hooks struct {
	// Before runs just before the handler, after the job enters RUNNING.
	Before func(j *job.Job)
	// After runs after a successful handler call with its result.
	After func(j *job.Job, result any)
	// OnError runs after a failed or timed-out attempt.
	OnError func(j *job.Job, err error)
}

// Definition is a registered task: a callable plus its default execution
// parameters. Definitions are created once at registration and never
// mutated afterwards.
type Definition struct {
	Name          string
	Handler       Handler
	Retries       int
	RetryDelay    time.Duration
	Timeout       time.Duration
	TimeoutPolicy job.TimeoutPolicy
	StoreResult   bool
	Hooks         Hooks
	Tags          []string
	Description   string
}

// NewJob builds a pending job from the definition's defaults and the given
// arguments. Per-call options may override the defaults.
func (d *Definition) NewJob(args []any, kwargs map[string]any, opts ...job.Option) *job.Job {
	base := []job.Option{
		job.WithRetries(d.Retries),
		job.WithRetryDelay(d.RetryDelay),
		job.WithTimeout(d.Timeout),
		job.WithTimeoutPolicy(d.TimeoutPolicy),
		job.WithTags(d.Tags...),
		job.WithDescription(d.Description),
	}
	j := job.New(d.Name, args, kwargs, append(base, opts...)...)
	if !d.StoreResult {
		j.StoreResult = false
	}
	return j
}
