// Package nuvom provides a lightweight, broker-less background task
// execution engine. It defines tasks, serializes invocations into durable
// jobs, dispatches them to a local worker pool, runs them with retry and
// timeout discipline, and persists results in pluggable stores — no Redis,
// no AMQP, and first-class support for non-POSIX hosts.
//
// Nuvom is designed as a library, not a service. Import it, register tasks,
// pick a queue and a result backend by name, and start the engine.
//
// # Quick Start
//
//	reg := task.NewRegistry()
//	reg.Register(&task.Definition{
//	    Name:    "add",
//	    Handler: func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
//	        return args[0].(int64) + args[1].(int64), nil
//	    },
//	}, task.RegisterStrict)
//
//	eng, err := engine.New(nuvom.DefaultConfig(), engine.WithTasks(reg))
//
// # Architecture
//
// Each subsystem defines its own contract: queue.Backend covers enqueue,
// batched dequeue, and lease semantics; result.Backend covers terminal
// records; task.Registry resolves handlers; plugin.Host binds externally
// supplied backends at startup. The worker pool pulls jobs in batches and
// assigns each to the least-busy worker; the job runner enforces timeouts,
// lifecycle hooks, and retry policy.
//
// All job IDs are TypeID — prefix-qualified, K-sortable, UUIDv7-based.
package nuvom
