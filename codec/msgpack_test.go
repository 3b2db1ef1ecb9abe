package codec_test

import (
	"errors"
	"testing"
	"time"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/codec"
	"github.com/nahom-zewdu/Nuvom/job"
)

func sampleJob(t *testing.T) *job.Job {
	t.Helper()
	j := job.New("send_report",
		[]any{"weekly", "pdf"},
		map[string]any{"recipient": "ops@example.com"},
		job.WithRetries(2),
		job.WithRetryDelay(3*time.Second),
		job.WithTimeout(30*time.Second),
		job.WithTimeoutPolicy(job.PolicyRetry),
		job.WithTags("reporting"),
		job.WithDescription("weekly ops report"),
	)
	j.MarkEnqueued()
	j.RecordAttempt(time.Now().UTC().Truncate(time.Millisecond), job.StatusFailed, "boom", "trace")
	return j
}

func TestMsgpack_RoundTrip(t *testing.T) {
	c := &codec.Msgpack{}
	orig := sampleJob(t)

	data, err := c.Encode(orig)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}

	if got.ID != orig.ID {
		t.Errorf("ID = %q, want %q", got.ID, orig.ID)
	}
	if got.FuncName != orig.FuncName {
		t.Errorf("FuncName = %q, want %q", got.FuncName, orig.FuncName)
	}
	if len(got.Args) != 2 || got.Args[0] != "weekly" || got.Args[1] != "pdf" {
		t.Errorf("Args = %v, want [weekly pdf]", got.Args)
	}
	if got.Kwargs["recipient"] != "ops@example.com" {
		t.Errorf("Kwargs = %v", got.Kwargs)
	}
	if got.RetriesLeft != 2 || got.MaxRetries != 2 {
		t.Errorf("retries = %d/%d, want 2/2", got.RetriesLeft, got.MaxRetries)
	}
	if got.RetryDelay != orig.RetryDelay || got.Timeout != orig.Timeout {
		t.Errorf("delays = %v/%v, want %v/%v", got.RetryDelay, got.Timeout, orig.RetryDelay, orig.Timeout)
	}
	if got.TimeoutPolicy != job.PolicyRetry {
		t.Errorf("TimeoutPolicy = %q, want retry", got.TimeoutPolicy)
	}
	if !got.StoreResult {
		t.Error("StoreResult lost in round trip")
	}
	if !got.CreatedAt.Equal(orig.CreatedAt) || !got.EnqueuedAt.Equal(orig.EnqueuedAt) {
		t.Error("timestamps lost in round trip")
	}
	if got.Status != orig.Status {
		t.Errorf("Status = %q, want %q", got.Status, orig.Status)
	}
	if len(got.Attempts) != 1 || got.Attempts[0].Error != "boom" || got.Attempts[0].Traceback != "trace" {
		t.Errorf("Attempts = %+v", got.Attempts)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "reporting" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Description != orig.Description {
		t.Errorf("Description = %q", got.Description)
	}
}

func TestMsgpack_Deterministic(t *testing.T) {
	c := &codec.Msgpack{}
	j := sampleJob(t)

	a, err := c.Encode(j)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	b, err := c.Encode(j)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if string(a) != string(b) {
		t.Error("equal inputs produced different encodings")
	}
}

func TestMsgpack_EncodeRejectsUnrepresentable(t *testing.T) {
	c := &codec.Msgpack{}
	j := job.New("bad", []any{make(chan int)}, nil)

	_, err := c.Encode(j)
	if err == nil {
		t.Fatal("expected error for channel argument")
	}
	if !errors.Is(err, nuvom.ErrUnsupportedValue) {
		t.Errorf("error = %v, want ErrUnsupportedValue", err)
	}
}

func TestMsgpack_DecodeCorrupt(t *testing.T) {
	c := &codec.Msgpack{}

	cases := map[string][]byte{
		"empty":       nil,
		"short":       {0x4E},
		"bad magic":   {0x00, 0x01, 0x80},
		"bad version": {0x4E, 0x7F, 0x80},
		"truncated":   {0x4E, 0x01, 0xd9},
	}
	for name, data := range cases {
		if _, err := c.Decode(data); !codec.IsCorrupt(err) {
			t.Errorf("%s: error = %v, want ErrCorruptRecord", name, err)
		}
	}
}

func TestRegistry_GetByName(t *testing.T) {
	c, err := codec.Get("msgpack")
	if err != nil {
		t.Fatalf("Get(msgpack) error: %v", err)
	}
	if c.Name() != "msgpack" {
		t.Errorf("Name = %q", c.Name())
	}

	if _, err := codec.Get("protobuf"); err == nil {
		t.Fatal("expected unknown backend error")
	}
}
