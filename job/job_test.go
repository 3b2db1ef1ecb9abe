package job_test

import (
	"testing"
	"time"

	"github.com/nahom-zewdu/Nuvom/job"
)

func TestNew_Defaults(t *testing.T) {
	j := job.New("add", []any{int64(2), int64(3)}, nil)

	if j.ID == "" {
		t.Fatal("expected generated id")
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", j.Status, job.StatusPending)
	}
	if !j.StoreResult {
		t.Error("StoreResult should default to true")
	}
	if j.CreatedAt.IsZero() {
		t.Error("CreatedAt not stamped")
	}
}

func TestNew_Options(t *testing.T) {
	j := job.New("flaky", nil, nil,
		job.WithRetries(2),
		job.WithRetryDelay(time.Second),
		job.WithTimeout(500*time.Millisecond),
		job.WithTimeoutPolicy(job.PolicyRetry),
		job.WithoutResult(),
		job.WithTags("batch", "nightly"),
		job.WithDescription("integration probe"),
	)

	if j.MaxRetries != 2 || j.RetriesLeft != 2 {
		t.Errorf("retries = %d/%d, want 2/2", j.RetriesLeft, j.MaxRetries)
	}
	if j.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", j.RetryDelay)
	}
	if j.Timeout != 500*time.Millisecond {
		t.Errorf("Timeout = %v, want 500ms", j.Timeout)
	}
	if j.TimeoutPolicy != job.PolicyRetry {
		t.Errorf("TimeoutPolicy = %q, want retry", j.TimeoutPolicy)
	}
	if j.StoreResult {
		t.Error("StoreResult should be false")
	}
	if len(j.Tags) != 2 {
		t.Errorf("Tags = %v, want 2 entries", j.Tags)
	}
}

func TestFinish_TerminalIsImmutable(t *testing.T) {
	j := job.New("add", nil, nil)
	j.MarkRunning()
	j.Finish(job.StatusSuccess)

	finished := j.FinishedAt
	j.Finish(job.StatusFailed)

	if j.Status != job.StatusSuccess {
		t.Errorf("Status = %q, terminal status must not be replaced", j.Status)
	}
	if !j.FinishedAt.Equal(finished) {
		t.Error("FinishedAt changed after terminal transition")
	}
}

func TestConsumeRetry_NeverNegative(t *testing.T) {
	j := job.New("add", nil, nil, job.WithRetries(1))

	j.ConsumeRetry()
	if j.RetriesLeft != 0 {
		t.Errorf("RetriesLeft = %d, want 0", j.RetriesLeft)
	}
	j.ConsumeRetry()
	if j.RetriesLeft != 0 {
		t.Errorf("RetriesLeft = %d, want 0 (never negative)", j.RetriesLeft)
	}
}

func TestRecordAttempt(t *testing.T) {
	j := job.New("flaky", nil, nil, job.WithRetries(2))

	start := time.Now().UTC()
	j.RecordAttempt(start, job.StatusFailed, "boom", "stack")
	j.RecordAttempt(start, job.StatusSuccess, "", "")

	if len(j.Attempts) != 2 {
		t.Fatalf("Attempts = %d, want 2", len(j.Attempts))
	}
	if j.Attempts[0].Error != "boom" || j.Attempts[0].Traceback != "stack" {
		t.Errorf("first attempt = %+v, want error and traceback", j.Attempts[0])
	}
	if j.Attempts[1].Outcome != job.StatusSuccess {
		t.Errorf("second attempt outcome = %q, want SUCCESS", j.Attempts[1].Outcome)
	}
}

func TestClone_IsDeep(t *testing.T) {
	j := job.New("add", []any{int64(1)}, map[string]any{"k": "v"},
		job.WithTags("a"))
	j.RecordAttempt(time.Now(), job.StatusFailed, "x", "")

	cp := j.Clone()
	cp.Args[0] = int64(9)
	cp.Kwargs["k"] = "w"
	cp.Attempts[0].Error = "y"
	cp.Tags[0] = "b"

	if j.Args[0] != int64(1) || j.Kwargs["k"] != "v" {
		t.Error("clone shares argument storage with original")
	}
	if j.Attempts[0].Error != "x" || j.Tags[0] != "a" {
		t.Error("clone shares attempt/tag storage with original")
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := []job.Status{job.StatusSuccess, job.StatusFailed, job.StatusTimeout, job.StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q.Terminal() = false, want true", s)
		}
	}
	for _, s := range []job.Status{job.StatusPending, job.StatusRunning} {
		if s.Terminal() {
			t.Errorf("%q.Terminal() = true, want false", s)
		}
	}
}
