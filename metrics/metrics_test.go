package metrics_test

import (
	"testing"

	"github.com/nahom-zewdu/Nuvom/metrics"
)

type fixedProvider struct{ snap metrics.Snapshot }

func (f *fixedProvider) Snapshot() metrics.Snapshot { return f.snap }

func TestSetProvider_InstallAndClear(t *testing.T) {
	t.Cleanup(func() { metrics.SetProvider(nil) })

	if metrics.Current() != nil {
		t.Fatal("expected no provider initially")
	}

	p := &fixedProvider{snap: metrics.Snapshot{QueueSize: 3, InflightJobs: 2, WorkerCount: 4}}
	metrics.SetProvider(p)

	got := metrics.Current()
	if got == nil {
		t.Fatal("expected installed provider")
	}
	snap := got.Snapshot()
	if snap.QueueSize != 3 || snap.InflightJobs != 2 || snap.WorkerCount != 4 {
		t.Errorf("snapshot = %+v", snap)
	}

	metrics.SetProvider(nil)
	if metrics.Current() != nil {
		t.Error("expected provider cleared")
	}
}
