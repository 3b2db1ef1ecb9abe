package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/middleware"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
			order = append(order, name+":in")
			result, err := next(ctx)
			order = append(order, name+":out")
			return result, err
		}
	}

	chain := middleware.Chain(mk("outer"), mk("inner"))
	j := job.New("x", nil, nil)

	result, err := chain(context.Background(), j, func(context.Context) (any, error) {
		order = append(order, "handler")
		return "done", nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %v, want done", result)
	}

	want := []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	j := job.New("x", nil, nil)

	result, err := chain(context.Background(), j, func(context.Context) (any, error) {
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Errorf("got (%v, %v), want (42, nil)", result, err)
	}
}

func TestRecover_ConvertsPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := job.New("x", nil, nil)

	_, err := mw(context.Background(), j, func(context.Context) (any, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}

	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("error = %T, want *PanicError", err)
	}
	if pe.Value != "kaboom" {
		t.Errorf("Value = %v, want kaboom", pe.Value)
	}
	if pe.Stack == "" {
		t.Error("expected captured stack")
	}
}

func TestRecover_PassThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	j := job.New("x", nil, nil)

	result, err := mw(context.Background(), j, func(context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil || result != "ok" {
		t.Errorf("got (%v, %v), want (ok, nil)", result, err)
	}
}

func TestLogging_PreservesResultAndError(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	j := job.New("x", nil, nil)

	result, err := mw(context.Background(), j, func(context.Context) (any, error) {
		return "value", nil
	})
	if err != nil || result != "value" {
		t.Errorf("got (%v, %v), want (value, nil)", result, err)
	}

	boom := errors.New("boom")
	_, err = mw(context.Background(), j, func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}

func TestMetrics_PassThrough(t *testing.T) {
	// With no global MeterProvider configured the instruments are noops;
	// the middleware must still forward results and errors unchanged.
	mw := middleware.Metrics()
	j := job.New("x", nil, nil)

	result, err := mw(context.Background(), j, func(context.Context) (any, error) {
		return 7, nil
	})
	if err != nil || result != 7 {
		t.Errorf("got (%v, %v), want (7, nil)", result, err)
	}
}
