package id_test

import (
	"sort"
	"testing"
	"time"

	"github.com/nahom-zewdu/Nuvom/id"
)

func TestNew_CarriesPrefix(t *testing.T) {
	jid := id.NewJobID()
	if jid.Prefix() != id.PrefixJob {
		t.Errorf("Prefix() = %q, want %q", jid.Prefix(), id.PrefixJob)
	}
	wid := id.NewWorkerID()
	if wid.Prefix() != id.PrefixWorker {
		t.Errorf("Prefix() = %q, want %q", wid.Prefix(), id.PrefixWorker)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", orig.String(), err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParse_RejectsEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestParseWithPrefix_RejectsMismatch(t *testing.T) {
	wid := id.NewWorkerID()
	if _, err := id.ParseWithPrefix(wid.String(), id.PrefixJob); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestNew_KSortable(t *testing.T) {
	// UUIDv7 suffixes carry a millisecond timestamp, so ids generated in
	// distinct milliseconds sort in generation order.
	ids := make([]string, 0, 5)
	for range 5 {
		ids = append(ids, id.NewJobID().String())
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Errorf("generated ids not sorted: %v", ids)
	}
}

func TestID_TextMarshaling(t *testing.T) {
	orig := id.NewJobID()
	text, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText error: %v", err)
	}

	var parsed id.ID
	if err := parsed.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}

	var zero id.ID
	if err := zero.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) error: %v", err)
	}
	if !zero.IsNil() {
		t.Error("expected Nil ID from empty input")
	}
}
