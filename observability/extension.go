// Package observability provides a built-in monitoring extension that
// records job lifecycle counters and polls the runtime metrics provider
// through OTel asynchronous gauges. Register it as an extension — or let
// a monitoring plugin install it — to track enqueue rates, completions,
// failures, retries, and timeouts.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/metrics"
)

// meterName is the instrumentation scope for nuvom observability metrics.
const meterName = "github.com/nahom-zewdu/Nuvom/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobTimedOut  = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters and exposes the
// pull-based runtime snapshot (queue size, in-flight jobs, worker count)
// as observable gauges. It holds no reference to the dispatcher — it
// reads whatever provider is currently installed, which breaks the cycle
// between pool and monitor.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	timedOut  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use it to inject a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully without a configured MeterProvider.
	m.enqueued, _ = meter.Int64Counter("nuvom.job.enqueued",
		metric.WithDescription("Jobs submitted to the queue"))
	m.completed, _ = meter.Int64Counter("nuvom.job.completed",
		metric.WithDescription("Jobs finished successfully"))
	m.failed, _ = meter.Int64Counter("nuvom.job.failed",
		metric.WithDescription("Jobs failed terminally"))
	m.retried, _ = meter.Int64Counter("nuvom.job.retried",
		metric.WithDescription("Jobs returned to the pending set for retry"))
	m.timedOut, _ = meter.Int64Counter("nuvom.job.timed_out",
		metric.WithDescription("Jobs that exceeded their wall-clock limit"))

	// Pull-model gauges: each observation reads the currently installed
	// snapshot provider.
	queueSize, _ := meter.Int64ObservableGauge("nuvom.queue.size",
		metric.WithDescription("Approximate pending job count"))
	inflight, _ := meter.Int64ObservableGauge("nuvom.jobs.inflight",
		metric.WithDescription("Jobs currently held by workers"))
	workers, _ := meter.Int64ObservableGauge("nuvom.workers",
		metric.WithDescription("Worker pool size"))

	_, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		p := metrics.Current()
		if p == nil {
			return nil
		}
		snap := p.Snapshot()
		o.ObserveInt64(queueSize, int64(snap.QueueSize))
		o.ObserveInt64(inflight, int64(snap.InflightJobs))
		o.ObserveInt64(workers, int64(snap.WorkerCount))
		return nil
	}, queueSize, inflight, workers)

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ *job.Job) error {
	m.enqueued.Add(ctx, 1)
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, _ *job.Job) error {
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.completed.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.failed.Add(ctx, 1)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ *job.Job, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1)
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, _ *job.Job) error {
	m.timedOut.Add(ctx, 1)
	return nil
}
