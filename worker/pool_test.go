package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/metrics"
	"github.com/nahom-zewdu/Nuvom/middleware"
	"github.com/nahom-zewdu/Nuvom/queue/memqueue"
	"github.com/nahom-zewdu/Nuvom/result/memresult"
	"github.com/nahom-zewdu/Nuvom/task"
	"github.com/nahom-zewdu/Nuvom/worker"
)

func setupPool(t *testing.T, workers int, opts ...worker.PoolOption) (
	*worker.Pool, *memqueue.Queue, *memresult.Store, *task.Registry,
) {
	t.Helper()
	logger := slog.Default()
	q := memqueue.New(0)
	results := memresult.New()
	reg := task.NewRegistry()
	extensions := ext.NewRegistry(logger)

	runner := worker.NewRunner(reg, q, results, extensions, logger,
		worker.WithMiddleware(middleware.Recover(logger)),
		worker.WithDefaultTimeout(5*time.Second),
	)

	base := []worker.PoolOption{
		worker.WithWorkers(workers),
		worker.WithBatchSize(4),
		worker.WithPollInterval(20 * time.Millisecond),
		worker.WithShutdownGrace(2 * time.Second),
	}
	pool := worker.NewPool(q, runner, extensions, logger, append(base, opts...)...)

	t.Cleanup(func() {
		pool.Stop(context.Background())
		metrics.SetProvider(nil)
	})
	return pool, q, results, reg
}

func TestPool_StartStopIdempotent(t *testing.T) {
	pool, _, _, _ := setupPool(t, 2)
	ctx := context.Background()

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("double start: %v", err)
	}

	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("double stop: %v", err)
	}
}

func TestPool_ExecutesJobs(t *testing.T) {
	pool, q, results, reg := setupPool(t, 4)
	ctx := context.Background()

	var executed atomic.Int64
	if err := reg.Register(&task.Definition{
		Name: "tick",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			executed.Add(1)
			return "done", nil
		},
		StoreResult: true,
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}

	const total = 50
	ids := make([]string, 0, total)
	for range total {
		j := job.New("tick", nil, nil)
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for executed.Load() < total {
		select {
		case <-deadline:
			t.Fatalf("executed %d/%d before deadline", executed.Load(), total)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range ids {
		full, err := results.GetFull(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if full == nil || full.Status != job.StatusSuccess {
			t.Errorf("job %s record = %+v, want SUCCESS", id, full)
		}
	}
}

func TestPool_MetricsSnapshot(t *testing.T) {
	pool, q, _, reg := setupPool(t, 3)
	ctx := context.Background()

	release := make(chan struct{})
	if err := reg.Register(&task.Definition{
		Name: "hold",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			<-release
			return nil, nil
		},
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// The pool installs itself as the current metrics provider.
	if metrics.Current() == nil {
		t.Fatal("pool did not install a metrics provider")
	}

	for range 3 {
		if err := q.Enqueue(ctx, job.New("hold", nil, nil)); err != nil {
			t.Fatal(err)
		}
	}

	// Wait until all three jobs are held by workers.
	deadline := time.After(5 * time.Second)
	for {
		snap := pool.Snapshot()
		if snap.InflightJobs == 3 {
			if snap.WorkerCount != 3 {
				t.Errorf("WorkerCount = %d, want 3", snap.WorkerCount)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot never reached 3 inflight: %+v", snap)
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(release)
	pool.Stop(ctx)

	if snap := pool.Snapshot(); snap.InflightJobs != 0 {
		t.Errorf("InflightJobs after stop = %d, want 0", snap.InflightJobs)
	}
	if metrics.Current() != nil {
		t.Error("metrics provider still installed after stop")
	}
}

func TestPool_GracefulShutdownConservation(t *testing.T) {
	pool, q, results, reg := setupPool(t, 4)
	ctx := context.Background()

	if err := reg.Register(&task.Definition{
		Name: "quick",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			time.Sleep(time.Millisecond)
			return nil, nil
		},
		StoreResult: true,
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}

	const total = 100
	ids := make([]string, 0, total)
	for range total {
		j := job.New("quick", nil, nil)
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond) // shutdown mid-run

	if err := pool.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if snap := pool.Snapshot(); snap.InflightJobs != 0 {
		t.Errorf("InflightJobs after shutdown = %d, want 0", snap.InflightJobs)
	}

	// Conservation: every job is either terminal in the result backend or
	// visible again in the queue.
	pending, _ := q.Qsize(ctx)
	var terminal int
	for _, id := range ids {
		full, err := results.GetFull(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if full != nil && full.Status.Terminal() {
			terminal++
		}
	}
	if terminal+pending != total {
		t.Errorf("terminal %d + pending %d != %d enqueued", terminal, pending, total)
	}
}

func TestPool_AbandonsHungJobPastGrace(t *testing.T) {
	pool, q, _, reg := setupPool(t, 1,
		worker.WithShutdownGrace(50*time.Millisecond))
	ctx := context.Background()

	hung := make(chan struct{})
	if err := reg.Register(&task.Definition{
		Name: "hang",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			<-hung // ignores cancellation until released
			return nil, nil
		},
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}
	defer close(hung)

	j := job.New("hang", nil, nil)
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Give the worker time to pick the job up.
	time.Sleep(50 * time.Millisecond)

	stopDone := make(chan struct{})
	go func() {
		pool.Stop(ctx)
		close(stopDone)
	}()

	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on a hung job past the grace period")
	}

	// The abandoned job re-entered the pending set.
	n, _ := q.Qsize(ctx)
	if n != 1 {
		t.Errorf("Qsize = %d, want 1 (abandoned job requeued)", n)
	}
}

func TestPool_LeastBusyAssignment(t *testing.T) {
	pool, q, _, reg := setupPool(t, 2, worker.WithBatchSize(2))
	ctx := context.Background()

	// One job blocks a worker; subsequent jobs must land on the other.
	block := make(chan struct{})
	var fastRuns atomic.Int64
	if err := reg.Register(&task.Definition{
		Name: "block",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			<-block
			return nil, nil
		},
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&task.Definition{
		Name: "fast",
		Handler: func(_ context.Context, _ []any, _ map[string]any) (any, error) {
			fastRuns.Add(1)
			return nil, nil
		},
	}, task.RegisterStrict); err != nil {
		t.Fatal(err)
	}

	if err := q.Enqueue(ctx, job.New("block", nil, nil)); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond) // blocker is running

	// Enqueue fast jobs one at a time: with the blocker holding one
	// worker, the other is always strictly less busy, so every fast job
	// must run to completion while the blocker is still held.
	for i := range 5 {
		if err := q.Enqueue(ctx, job.New("fast", nil, nil)); err != nil {
			t.Fatal(err)
		}
		deadline := time.After(5 * time.Second)
		for fastRuns.Load() < int64(i+1) || pool.Snapshot().InflightJobs > 1 {
			select {
			case <-deadline:
				t.Fatalf("fast runs = %d/%d; least-busy assignment starved them",
					fastRuns.Load(), i+1)
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	close(block)
	pool.Stop(ctx)
}
