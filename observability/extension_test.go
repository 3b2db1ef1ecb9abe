package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nahom-zewdu/Nuvom/ext"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/observability"
)

func TestMetricsExtension_HooksDoNotError(t *testing.T) {
	// Without a configured MeterProvider the instruments are noops; every
	// hook must still succeed so the registry never logs hook errors.
	m := observability.NewMetricsExtension()
	ctx := context.Background()
	j := job.New("x", nil, nil)

	if err := m.OnJobEnqueued(ctx, j); err != nil {
		t.Errorf("OnJobEnqueued = %v", err)
	}
	if err := m.OnJobStarted(ctx, j); err != nil {
		t.Errorf("OnJobStarted = %v", err)
	}
	if err := m.OnJobCompleted(ctx, j, time.Millisecond); err != nil {
		t.Errorf("OnJobCompleted = %v", err)
	}
	if err := m.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Errorf("OnJobFailed = %v", err)
	}
	if err := m.OnJobRetrying(ctx, j, 1, time.Second); err != nil {
		t.Errorf("OnJobRetrying = %v", err)
	}
	if err := m.OnJobTimedOut(ctx, j); err != nil {
		t.Errorf("OnJobTimedOut = %v", err)
	}
}

func TestMetricsExtension_RegistersAsExtension(t *testing.T) {
	r := ext.NewRegistry(nil)
	m := observability.NewMetricsExtension()
	r.Register(m)

	if len(r.Extensions()) != 1 || r.Extensions()[0].Name() != "observability-metrics" {
		t.Errorf("Extensions = %v", r.Extensions())
	}

	// Emitting through the registry exercises the type-cached hooks.
	r.EmitJobEnqueued(context.Background(), job.New("x", nil, nil))
	r.EmitJobCompleted(context.Background(), job.New("x", nil, nil), time.Millisecond)
}
