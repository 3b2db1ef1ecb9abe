package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/id"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/metrics"
	"github.com/nahom-zewdu/Nuvom/queue"
)

// workerState is one single-slot worker: a personal job channel fed by
// the dispatcher, a load counter for least-busy assignment, and the
// cancel handle of the job it is currently running.
type workerState struct {
	index int
	jobs  chan *job.Job

	// load counts jobs assigned to this worker and not yet settled.
	load atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	running string // job id currently executing, for logs
}

// Pool owns max_workers single-slot workers and one dispatcher. The
// dispatcher pulls jobs in batches from the queue backend and assigns each
// to the least-busy worker; each worker runs its jobs sequentially through
// the Runner.
type Pool struct {
	queue      queue.Backend
	runner     *Runner
	extensions *ext.Registry
	logger     *slog.Logger
	workerID   id.ID

	numWorkers    int
	batchSize     int
	pollInterval  time.Duration
	shutdownGrace time.Duration
	limiter       *rate.Limiter

	workers []*workerState

	stopCh       chan struct{}
	dispatcherWG sync.WaitGroup
	workersWG    sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of workers.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) { p.numWorkers = n }
}

// WithBatchSize sets the maximum batch pulled per dispatcher cycle.
func WithBatchSize(n int) PoolOption {
	return func(p *Pool) { p.batchSize = n }
}

// WithPollInterval sets how long the dispatcher waits on an empty queue.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithShutdownGrace bounds how long running jobs may finish after a
// shutdown is requested.
func WithShutdownGrace(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownGrace = d }
}

// WithDequeueRate caps dispatcher pulls per second. Zero disables the
// gate.
func WithDequeueRate(perSecond float64) PoolOption {
	return func(p *Pool) {
		if perSecond > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// NewPool creates a worker pool.
func NewPool(
	q queue.Backend,
	runner *Runner,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:         q,
		runner:        runner,
		extensions:    extensions,
		logger:        logger,
		workerID:      id.NewWorkerID(),
		numWorkers:    4,
		batchSize:     1,
		pollInterval:  time.Second,
		shutdownGrace: 10 * time.Second,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*workerState, p.numWorkers)
	for i := range p.workers {
		p.workers[i] = &workerState{
			index: i,
			jobs:  make(chan *job.Job, p.batchSize),
		}
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.ID { return p.workerID }

// Start launches the workers and the dispatcher and installs the pool as
// the current metrics provider. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("workers", p.numWorkers),
		slog.Int("batch_size", p.batchSize),
	)

	for _, ws := range p.workers {
		p.workersWG.Add(1)
		go p.workerLoop(ws)
	}

	p.dispatcherWG.Add(1)
	go p.dispatchLoop()

	metrics.SetProvider(p)
	return nil
}

// Stop shuts the pool down in phases: stop pulling batches, wait for
// running jobs bounded by the grace period, return whatever is still
// running or assigned to the pending set, and uninstall the metrics
// provider. Stopping twice is a no-op after the first call.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Phase 1: no new batches.
	close(p.stopCh)
	p.dispatcherWG.Wait()

	// Phase 2: grace for running jobs. Workers drain their personal
	// queues (nacking unstarted jobs) and exit once their current job
	// settles.
	done := make(chan struct{})
	go func() {
		p.workersWG.Wait()
		close(done)
	}()

	grace := time.NewTimer(p.shutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		p.logger.Info("worker pool drained gracefully")
	case <-grace.C:
		// Phase 3: abandon what is still running; the runner nacks each
		// abandoned job with zero delay so it re-enters the pending set.
		p.logger.Warn("shutdown grace elapsed, abandoning running jobs")
		p.cancelActive()
		<-done
	case <-ctx.Done():
		p.logger.Warn("shutdown context cancelled, abandoning running jobs")
		p.cancelActive()
		<-done
	}

	metrics.SetProvider(nil)
	p.extensions.EmitShutdown(context.WithoutCancel(ctx))
	return nil
}

// Snapshot implements metrics.Provider.
func (p *Pool) Snapshot() metrics.Snapshot {
	qsize, err := p.queue.Qsize(context.Background())
	if err != nil {
		qsize = 0
	}
	return metrics.Snapshot{
		QueueSize:    qsize,
		InflightJobs: p.inflight(),
		WorkerCount:  p.numWorkers,
	}
}

// inflight is the number of jobs assigned to workers and not yet settled.
func (p *Pool) inflight() int {
	var n int64
	for _, ws := range p.workers {
		n += ws.load.Load()
	}
	return int(n)
}

// dispatchLoop pulls batches and assigns jobs until shutdown.
func (p *Pool) dispatchLoop() {
	defer p.dispatcherWG.Done()

	dispatchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopCh
		cancel()
	}()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(dispatchCtx); err != nil {
				return
			}
		}

		jobs, err := p.queue.PopBatch(dispatchCtx, p.batchSize)
		if err != nil {
			p.logger.Error("batch pop failed", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(jobs) == 0 {
			// Blocking wait bounded by the poll interval so shutdown is
			// never stalled for long.
			j, err := p.queue.Dequeue(dispatchCtx, p.pollInterval)
			if err != nil || j == nil {
				continue
			}
			jobs = []*job.Job{j}
		}

		for _, j := range jobs {
			p.assign(j)
		}
	}
}

// assign hands a job to the least-busy worker: fewest in-flight jobs,
// ties broken by lowest index. If shutdown arrives while the worker's
// channel is full, the job goes straight back to the queue.
func (p *Pool) assign(j *job.Job) {
	target := p.workers[0]
	for _, ws := range p.workers[1:] {
		if ws.load.Load() < target.load.Load() {
			target = ws
		}
	}

	target.load.Add(1)
	select {
	case target.jobs <- j:
		p.logger.Debug("job assigned",
			slog.String("job_id", j.ID),
			slog.Int("worker", target.index),
		)
	case <-p.stopCh:
		target.load.Add(-1)
		p.requeue(j)
	}
}

// workerLoop runs one worker: execute assigned jobs sequentially until
// shutdown, then nack whatever was assigned but never started.
func (p *Pool) workerLoop(ws *workerState) {
	defer p.workersWG.Done()

	for {
		select {
		case <-p.stopCh:
			p.drain(ws)
			return
		default:
		}

		select {
		case <-p.stopCh:
			p.drain(ws)
			return
		case j := <-ws.jobs:
			p.runJob(ws, j)
		}
	}
}

// runJob executes one job with a cancellable context registered so
// shutdown can abandon it past the grace period.
func (p *Pool) runJob(ws *workerState, j *job.Job) {
	jobCtx, cancel := context.WithCancel(context.Background())

	ws.mu.Lock()
	ws.cancel = cancel
	ws.running = j.ID
	ws.mu.Unlock()

	p.runner.Run(jobCtx, j)

	ws.mu.Lock()
	ws.cancel = nil
	ws.running = ""
	ws.mu.Unlock()

	cancel()
	ws.load.Add(-1)
}

// drain empties a worker's personal queue at shutdown, returning each
// unstarted job to the pending set.
func (p *Pool) drain(ws *workerState) {
	for {
		select {
		case j := <-ws.jobs:
			p.requeue(j)
			ws.load.Add(-1)
		default:
			return
		}
	}
}

// requeue returns an unstarted job to the queue with zero delay. If the
// backend refuses, the job is recorded CANCELLED so no record is silently
// lost.
func (p *Pool) requeue(j *job.Job) {
	ctx := context.Background()
	if err := p.queue.Nack(ctx, j, 0); err == nil {
		return
	}

	j.Finish(job.StatusCancelled)
	if err := p.runner.results.SetError(ctx, j, "cancelled by shutdown before start", ""); err != nil {
		p.logger.Error("failed to record cancelled job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

// cancelActive cancels the context of every currently running job.
func (p *Pool) cancelActive() {
	for _, ws := range p.workers {
		ws.mu.Lock()
		if ws.cancel != nil {
			p.logger.Warn("abandoning running job",
				slog.String("job_id", ws.running),
				slog.Int("worker", ws.index),
			)
			ws.cancel()
		}
		ws.mu.Unlock()
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}
