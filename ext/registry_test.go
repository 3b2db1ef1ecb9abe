package ext_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
)

// recorder implements a subset of hooks and records invocations.
type recorder struct {
	name      string
	started   int
	completed int
	failed    int
	retrying  int
	timedOut  int
	shutdown  int
	hookErr   error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobStarted(_ context.Context, _ *job.Job) error {
	r.started++
	return r.hookErr
}

func (r *recorder) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	r.completed++
	return r.hookErr
}

func (r *recorder) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	r.failed++
	return r.hookErr
}

func (r *recorder) OnJobRetrying(_ context.Context, _ *job.Job, _ int, _ time.Duration) error {
	r.retrying++
	return r.hookErr
}

func (r *recorder) OnJobTimedOut(_ context.Context, _ *job.Job) error {
	r.timedOut++
	return r.hookErr
}

func (r *recorder) OnShutdown(_ context.Context) error {
	r.shutdown++
	return r.hookErr
}

// startedOnly opts in to a single hook.
type startedOnly struct{ started int }

func (s *startedOnly) Name() string { return "started-only" }
func (s *startedOnly) OnJobStarted(_ context.Context, _ *job.Job) error {
	s.started++
	return nil
}

func TestRegistry_EmitsToRegisteredHooks(t *testing.T) {
	r := ext.NewRegistry(nil)
	rec := &recorder{name: "rec"}
	r.Register(rec)

	ctx := context.Background()
	j := job.New("x", nil, nil)

	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Millisecond)
	r.EmitJobFailed(ctx, j, errors.New("boom"))
	r.EmitJobRetrying(ctx, j, 1, time.Second)
	r.EmitJobTimedOut(ctx, j)
	r.EmitShutdown(ctx)

	if rec.started != 1 || rec.completed != 1 || rec.failed != 1 ||
		rec.retrying != 1 || rec.timedOut != 1 || rec.shutdown != 1 {
		t.Errorf("hook counts = %+v, want one each", rec)
	}
}

func TestRegistry_PartialExtension(t *testing.T) {
	r := ext.NewRegistry(nil)
	s := &startedOnly{}
	r.Register(s)

	ctx := context.Background()
	j := job.New("x", nil, nil)

	// Only the implemented hook fires; the rest are silently skipped.
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, 0)
	r.EmitShutdown(ctx)

	if s.started != 1 {
		t.Errorf("started = %d, want 1", s.started)
	}
}

func TestRegistry_HookErrorsNeverPropagate(t *testing.T) {
	r := ext.NewRegistry(nil)
	bad := &recorder{name: "bad", hookErr: errors.New("hook exploded")}
	good := &recorder{name: "good"}
	r.Register(bad)
	r.Register(good)

	// Emits must reach every extension even when an earlier one errors.
	r.EmitJobStarted(context.Background(), job.New("x", nil, nil))

	if bad.started != 1 || good.started != 1 {
		t.Errorf("started = %d/%d, want 1/1", bad.started, good.started)
	}
}

func TestRegistry_Extensions(t *testing.T) {
	r := ext.NewRegistry(nil)
	r.Register(&recorder{name: "a"})
	r.Register(&recorder{name: "b"})

	exts := r.Extensions()
	if len(exts) != 2 || exts[0].Name() != "a" || exts[1].Name() != "b" {
		t.Errorf("Extensions() = %v", exts)
	}
}
