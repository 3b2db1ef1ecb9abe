// Package engine wires the execution runtime together: it registers the
// built-in backends, loads plugins, populates the task registry from the
// manifest, resolves the configured queue and result backends by name,
// and owns the worker pool lifecycle.
//
// The engine holds opaque handles to the active backends — it never
// references a concrete backend type. Capabilities live in a registry
// populated at startup; configuration picks by name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/codec"
	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/manifest"
	"github.com/nahom-zewdu/Nuvom/middleware"
	"github.com/nahom-zewdu/Nuvom/plugin"
	"github.com/nahom-zewdu/Nuvom/queue"
	"github.com/nahom-zewdu/Nuvom/queue/filequeue"
	"github.com/nahom-zewdu/Nuvom/queue/memqueue"
	"github.com/nahom-zewdu/Nuvom/queue/sqlitequeue"
	"github.com/nahom-zewdu/Nuvom/result"
	"github.com/nahom-zewdu/Nuvom/result/fileresult"
	"github.com/nahom-zewdu/Nuvom/result/memresult"
	"github.com/nahom-zewdu/Nuvom/result/sqliteresult"
	"github.com/nahom-zewdu/Nuvom/task"
	"github.com/nahom-zewdu/Nuvom/worker"
)

// Engine is the assembled execution runtime.
type Engine struct {
	cfg        nuvom.Config
	logger     *slog.Logger
	tasks      *task.Registry
	handlers   map[string]task.Handler
	backends   *plugin.Registry
	extensions *ext.Registry
	loader     *plugin.Loader

	queue   queue.Backend
	results result.Backend
	pool    *worker.Pool

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine before wiring.
type Option func(*Engine)

// WithTasks supplies a pre-populated task registry (decorator-style
// registration done by the host).
func WithTasks(reg *task.Registry) Option {
	return func(e *Engine) { e.tasks = reg }
}

// WithHandlers binds manifest symbols to handlers so the manifest loader
// can register them.
func WithHandlers(handlers map[string]task.Handler) Option {
	return func(e *Engine) { e.handlers = handlers }
}

// WithLogger overrides the config-derived logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithExtensions registers lifecycle extensions ahead of plugin loading.
func WithExtensions(exts ...ext.Extension) Option {
	return func(e *Engine) {
		for _, x := range exts {
			e.extensions.Register(x)
		}
	}
}

// New wires an engine from the configuration. Startup order: built-in
// backends, then plugins and the task manifest, then backend resolution,
// then the pool. Any failure here is fatal to the host.
func New(cfg nuvom.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   newLogger(cfg),
		tasks:    task.NewRegistry(),
		backends: plugin.NewRegistry(),
	}
	e.extensions = ext.NewRegistry(e.logger)
	for _, opt := range opts {
		opt(e)
	}

	registerBuiltins(e.backends)

	// The codec must exist before any backend encodes a record.
	if _, err := codec.Get(cfg.SerializationBackend); err != nil {
		return nil, err
	}

	// Plugins and the task manifest are independent startup inputs.
	e.loader = plugin.NewLoader(&host{engine: e}, e.logger)
	g := new(errgroup.Group)
	g.Go(func() error {
		return e.loader.Load(context.Background(), cfg.PluginPath)
	})
	g.Go(func() error {
		if cfg.ManifestPath == "" {
			return nil
		}
		entries, err := manifest.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}
		return manifest.Apply(e.tasks, entries, e.handlers)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	qf, err := e.backends.QueueBackend(cfg.QueueBackend)
	if err != nil {
		return nil, err
	}
	if e.queue, err = qf(cfg); err != nil {
		return nil, fmt.Errorf("engine: build queue backend %q: %w", cfg.QueueBackend, err)
	}

	rf, err := e.backends.ResultBackend(cfg.ResultBackend)
	if err != nil {
		e.queue.Close()
		return nil, err
	}
	if e.results, err = rf(cfg); err != nil {
		e.queue.Close()
		return nil, fmt.Errorf("engine: build result backend %q: %w", cfg.ResultBackend, err)
	}

	runner := worker.NewRunner(e.tasks, e.queue, e.results, e.extensions, e.logger,
		worker.WithDefaultTimeout(cfg.JobTimeout),
		worker.WithDefaultPolicy(job.TimeoutPolicy(cfg.TimeoutPolicy)),
		worker.WithMiddleware(
			middleware.Logging(e.logger),
			middleware.Recover(e.logger),
			middleware.Metrics(),
		),
	)
	e.pool = worker.NewPool(e.queue, runner, e.extensions, e.logger,
		worker.WithWorkers(cfg.MaxWorkers),
		worker.WithBatchSize(cfg.BatchSize),
		worker.WithShutdownGrace(cfg.ShutdownGrace),
		worker.WithDequeueRate(cfg.DequeueRate),
	)

	e.logger.Info("engine wired",
		slog.String("queue_backend", cfg.QueueBackend),
		slog.String("result_backend", cfg.ResultBackend),
		slog.String("serialization_backend", cfg.SerializationBackend),
		slog.Int("max_workers", cfg.MaxWorkers),
		slog.Int("tasks", e.tasks.Len()),
	)
	return e, nil
}

// Tasks returns the engine's task registry.
func (e *Engine) Tasks() *task.Registry { return e.tasks }

// Queue returns the active queue backend.
func (e *Engine) Queue() queue.Backend { return e.queue }

// Results returns the active result backend.
func (e *Engine) Results() result.Backend { return e.results }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	e.started = true
	return e.pool.Start(ctx)
}

// Stop shuts the runtime down: drain the pool, stop plugins in reverse
// start order, close the backends. Stopping twice is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var firstErr error
	if err := e.pool.Stop(ctx); err != nil {
		firstErr = err
	}
	e.loader.Stop(ctx)
	if err := e.queue.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := e.results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	e.logger.Info("engine stopped")
	return firstErr
}

// Run starts the engine and blocks until the context is cancelled or a
// SIGINT/SIGTERM arrives, then shuts down gracefully.
func (e *Engine) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(sigCtx); err != nil {
		return err
	}
	<-sigCtx.Done()

	e.logger.Info("shutdown requested")
	return e.Stop(context.Background())
}

// Enqueue builds a job from the registered task's defaults and submits
// it. It returns the job id.
func (e *Engine) Enqueue(ctx context.Context, funcName string, args []any, kwargs map[string]any, opts ...job.Option) (string, error) {
	def, err := e.tasks.Get(funcName)
	if err != nil {
		return "", err
	}
	j := def.NewJob(args, kwargs, opts...)
	if err := e.queue.Enqueue(ctx, j); err != nil {
		return "", err
	}
	e.extensions.EmitJobEnqueued(ctx, j)
	return j.ID, nil
}

// Map enqueues one independent job per argument list and returns the ids
// in order. Each sub-job is its own record; there is no aggregator.
func (e *Engine) Map(ctx context.Context, funcName string, argLists [][]any, opts ...job.Option) ([]string, error) {
	ids := make([]string, 0, len(argLists))
	for _, args := range argLists {
		id, err := e.Enqueue(ctx, funcName, args, nil, opts...)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Wait polls the result backend until the job has a terminal record or
// the context is done.
func (e *Engine) Wait(ctx context.Context, id string) (*result.Record, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		rec, err := e.results.GetFull(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil && rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// registerBuiltins binds the built-in backends. Plugins load afterwards,
// so a plugin may shadow a built-in name.
func registerBuiltins(r *plugin.Registry) {
	r.RegisterQueueBackend("memory", memqueue.Factory)
	r.RegisterQueueBackend("file", filequeue.Factory)
	r.RegisterQueueBackend("sqlite", sqlitequeue.Factory)
	r.RegisterResultBackend("memory", memresult.Factory)
	r.RegisterResultBackend("file", fileresult.Factory)
	r.RegisterResultBackend("sqlite", sqliteresult.Factory)
}

// host is the accessor object handed to plugins; it forwards
// registrations into the engine's registries.
type host struct {
	engine *Engine
}

var _ plugin.Host = (*host)(nil)

func (h *host) Config() nuvom.Config { return h.engine.cfg }

func (h *host) Logger() *slog.Logger { return h.engine.logger }

func (h *host) RegisterQueueBackend(name string, f queue.Factory) {
	h.engine.backends.RegisterQueueBackend(name, f)
}

func (h *host) RegisterResultBackend(name string, f result.Factory) {
	h.engine.backends.RegisterResultBackend(name, f)
}

func (h *host) InstallMonitor(x ext.Extension) {
	h.engine.extensions.Register(x)
}

// newLogger builds a leveled text logger from the configuration.
func newLogger(cfg nuvom.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// IsFatalStartup reports whether an error from New should map to a
// non-zero process exit: plugin load failures, unknown backends, and a
// corrupt task manifest all qualify.
func IsFatalStartup(err error) bool {
	return errors.Is(err, nuvom.ErrPluginLoad) ||
		errors.Is(err, nuvom.ErrUnknownBackend) ||
		errors.Is(err, nuvom.ErrCorruptManifest)
}
