// Package worker provides the execution engine: a Runner that executes a
// single job with timeout enforcement, lifecycle hooks, and retry
// discipline, and a Pool that owns the workers and the dispatcher feeding
// them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/backoff"
	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/middleware"
	"github.com/nahom-zewdu/Nuvom/queue"
	"github.com/nahom-zewdu/Nuvom/result"
	"github.com/nahom-zewdu/Nuvom/task"
)

// errAbandoned marks a run cut short by shutdown: the job was returned to
// the pending set and no terminal record was written.
var errAbandoned = errors.New("worker: run abandoned by shutdown")

// ioAttempts bounds retries against an unavailable backend before the
// runner escalates.
const ioAttempts = 3

// Runner executes one job at a time: resolve the task, run it through the
// middleware chain on a dedicated goroutine, enforce the wall-clock
// timeout, decide retry versus terminal, persist the outcome, and settle
// the queue lease.
type Runner struct {
	tasks      *task.Registry
	queue      queue.Backend
	results    result.Backend
	extensions *ext.Registry
	mw         middleware.Middleware
	ioBackoff  backoff.Strategy
	logger     *slog.Logger

	defaultTimeout time.Duration
	defaultPolicy  job.TimeoutPolicy
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDefaultTimeout sets the wall-clock limit applied to jobs that carry
// none of their own.
func WithDefaultTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.defaultTimeout = d }
}

// WithDefaultPolicy sets the timeout policy applied to jobs that carry
// none of their own.
func WithDefaultPolicy(p job.TimeoutPolicy) RunnerOption {
	return func(r *Runner) { r.defaultPolicy = p }
}

// WithMiddleware sets the middleware chain wrapped around every handler
// call.
func WithMiddleware(mws ...middleware.Middleware) RunnerOption {
	return func(r *Runner) { r.mw = middleware.Chain(mws...) }
}

// WithIOBackoff sets the delay strategy between attempts to reach an
// unavailable backend.
func WithIOBackoff(s backoff.Strategy) RunnerOption {
	return func(r *Runner) { r.ioBackoff = s }
}

// NewRunner creates a Runner.
func NewRunner(
	tasks *task.Registry,
	q queue.Backend,
	results result.Backend,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		tasks:          tasks,
		queue:          q,
		results:        results,
		extensions:     extensions,
		mw:             middleware.Chain(),
		ioBackoff:      backoff.DefaultIO(),
		logger:         logger,
		defaultTimeout: 60 * time.Second,
		defaultPolicy:  job.PolicyFail,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the job to a settled state: terminal record plus ack, or a
// nack that makes it visible again. ctx cancellation means shutdown: the
// running handler is abandoned and the job is returned to the pending set
// untouched.
func (r *Runner) Run(ctx context.Context, j *job.Job) {
	// Persistence and lease settlement must survive ctx cancellation at
	// shutdown, so backend I/O runs on an uncancellable context.
	ioCtx := context.WithoutCancel(ctx)

	def, err := r.tasks.Get(j.FuncName)
	if err != nil {
		j.MarkRunning()
		r.failTerminal(ioCtx, j, err.Error(), "")
		return
	}

	j.MarkRunning()
	started := j.StartedAt
	r.extensions.EmitJobStarted(ioCtx, j)

	if def.Hooks.Before != nil {
		r.runHook("before_job", j, func() { def.Hooks.Before(j) })
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	policy := j.TimeoutPolicy
	if policy == "" {
		policy = r.defaultPolicy
	}

	value, execErr := r.execute(ctx, j, def, timeout)

	switch {
	case errors.Is(execErr, errAbandoned):
		// Shutdown: requeue as-is; no attempt is recorded for a run that
		// never observably finished.
		j.Status = job.StatusPending
		if nackErr := r.queue.Nack(ioCtx, j, 0); nackErr != nil {
			r.logger.Error("failed to requeue abandoned job",
				slog.String("job_id", j.ID),
				slog.String("error", nackErr.Error()),
			)
		}

	case errors.Is(execErr, nuvom.ErrJobTimeout):
		r.handleTimeout(ioCtx, j, def, started, policy, timeout)

	case execErr != nil:
		r.handleFailure(ioCtx, j, def, started, execErr)

	default:
		r.handleSuccess(ioCtx, j, def, started, value)
	}
}

// execute runs the handler on a dedicated goroutine and waits with a
// deadline. Cooperative cancellation is offered through the handler
// context; a handler that ignores it is abandoned — its goroutine may
// finish in the background but the result is discarded.
func (r *Runner) execute(ctx context.Context, j *job.Job, def *task.Definition, timeout time.Duration) (any, error) {
	type outcome struct {
		value any
		err   error
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		value, err := r.mw(execCtx, j, func(c context.Context) (any, error) {
			return def.Handler(c, j.Args, j.Kwargs)
		})
		ch <- outcome{value, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, nuvom.ErrJobTimeout
		}
		return out.value, out.err
	case <-timer.C:
		return nil, nuvom.ErrJobTimeout
	case <-ctx.Done():
		return nil, errAbandoned
	}
}

func (r *Runner) handleSuccess(ctx context.Context, j *job.Job, def *task.Definition, started time.Time, value any) {
	j.RecordAttempt(started, job.StatusSuccess, "", "")
	j.Finish(job.StatusSuccess)

	if def.Hooks.After != nil {
		r.runHook("after_job", j, func() { def.Hooks.After(j, value) })
	}

	if j.StoreResult {
		r.persist(ctx, j, func() error {
			return r.results.SetResult(ctx, j, value)
		})
	}
	r.ack(ctx, j)
	r.extensions.EmitJobCompleted(ctx, j, j.FinishedAt.Sub(started))

	r.logger.Info("job succeeded",
		slog.String("job_id", j.ID),
		slog.String("func_name", j.FuncName),
		slog.Int("attempts", len(j.Attempts)),
	)
}

func (r *Runner) handleFailure(ctx context.Context, j *job.Job, def *task.Definition, started time.Time, execErr error) {
	if def.Hooks.OnError != nil {
		r.runHook("on_error", j, func() { def.Hooks.OnError(j, execErr) })
	}

	summary := execErr.Error()
	traceback := tracebackFor(execErr)
	j.RecordAttempt(started, job.StatusFailed, summary, traceback)

	if j.CanRetry() {
		j.ConsumeRetry()
		r.retry(ctx, j, summary)
		return
	}

	r.failTerminal(ctx, j, summary, traceback)
}

func (r *Runner) handleTimeout(ctx context.Context, j *job.Job, def *task.Definition, started time.Time, policy job.TimeoutPolicy, timeout time.Duration) {
	r.extensions.EmitJobTimedOut(ctx, j)
	if def.Hooks.OnError != nil {
		r.runHook("on_error", j, func() { def.Hooks.OnError(j, nuvom.ErrJobTimeout) })
	}

	summary := fmt.Sprintf("timed out after %s", timeout)

	switch policy {
	case job.PolicyRetry:
		j.RecordAttempt(started, job.StatusTimeout, summary, "")
		if j.CanRetry() {
			j.ConsumeRetry()
			r.retry(ctx, j, summary)
			return
		}
		r.timeoutTerminal(ctx, j, summary)

	case job.PolicyIgnore:
		// Acks and never retries, traceback omitted.
		j.RecordAttempt(started, job.StatusTimeout, summary, "")
		r.timeoutTerminal(ctx, j, summary)

	default: // job.PolicyFail
		j.RecordAttempt(started, job.StatusTimeout, summary, "")
		r.timeoutTerminal(ctx, j, summary)
	}
}

// retry returns the job to the pending set after its retry delay.
func (r *Runner) retry(ctx context.Context, j *job.Job, summary string) {
	j.Status = job.StatusPending
	attempt := len(j.Attempts)

	if err := r.queue.Nack(ctx, j, j.RetryDelay); err != nil {
		r.logger.Error("failed to requeue job for retry",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	r.extensions.EmitJobRetrying(ctx, j, attempt, j.RetryDelay)

	r.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("func_name", j.FuncName),
		slog.String("error", summary),
		slog.Int("attempt", attempt),
		slog.Int("retries_left", j.RetriesLeft),
		slog.Duration("delay", j.RetryDelay),
	)
}

// failTerminal settles a job as FAILED.
func (r *Runner) failTerminal(ctx context.Context, j *job.Job, summary, traceback string) {
	j.Finish(job.StatusFailed)
	if len(j.Attempts) == 0 {
		j.RecordAttempt(j.StartedAt, job.StatusFailed, summary, traceback)
	}
	if j.StoreResult {
		r.persist(ctx, j, func() error {
			return r.results.SetError(ctx, j, summary, traceback)
		})
	}
	r.ack(ctx, j)
	r.extensions.EmitJobFailed(ctx, j, errors.New(summary))

	r.logger.Warn("job failed terminally",
		slog.String("job_id", j.ID),
		slog.String("func_name", j.FuncName),
		slog.String("error", summary),
		slog.Int("attempts", len(j.Attempts)),
	)
}

// timeoutTerminal settles a job as TIMEOUT.
func (r *Runner) timeoutTerminal(ctx context.Context, j *job.Job, summary string) {
	j.Finish(job.StatusTimeout)
	if j.StoreResult {
		r.persist(ctx, j, func() error {
			return r.results.SetError(ctx, j, summary, "")
		})
	}
	r.ack(ctx, j)
	r.extensions.EmitJobFailed(ctx, j, nuvom.ErrJobTimeout)

	r.logger.Warn("job timed out terminally",
		slog.String("job_id", j.ID),
		slog.String("func_name", j.FuncName),
		slog.Int("attempts", len(j.Attempts)),
	)
}

// persist writes a terminal record, retrying transient backend failures a
// bounded number of times with backoff before escalating to the log.
func (r *Runner) persist(ctx context.Context, j *job.Job, write func() error) {
	var err error
	for attempt := 1; attempt <= ioAttempts; attempt++ {
		if err = write(); err == nil {
			return
		}
		if !errors.Is(err, nuvom.ErrBackendUnavailable) {
			break
		}
		time.Sleep(r.ioBackoff.Delay(attempt))
	}
	r.logger.Error("failed to persist job record",
		slog.String("job_id", j.ID),
		slog.String("error", err.Error()),
	)
}

func (r *Runner) ack(ctx context.Context, j *job.Job) {
	if err := r.queue.Ack(ctx, j.ID); err != nil {
		r.logger.Error("failed to ack job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// runHook guards a per-task lifecycle hook: errors and panics are logged
// and never abort the job.
func (r *Runner) runHook(name string, j *job.Job, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("task hook panicked",
				slog.String("hook", name),
				slog.String("job_id", j.ID),
				slog.Any("panic", rec),
			)
		}
	}()
	fn()
}

// tracebackFor extracts the best available stack text for a handler error.
func tracebackFor(err error) string {
	var pe *middleware.PanicError
	if errors.As(err, &pe) {
		return pe.Stack
	}
	return fmt.Sprintf("%+v", err)
}
