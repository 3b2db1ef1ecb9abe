// Package memresult provides the in-memory result backend. Intended for
// tests and single-process ephemeral use.
package memresult

import (
	"context"
	"sort"
	"sync"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/result"
)

var _ result.Backend = (*Store)(nil)

// Store is a mutex-guarded map of terminal records.
type Store struct {
	mu      sync.RWMutex
	records map[string]*result.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[string]*result.Record)}
}

// SetResult implements result.Backend.
func (s *Store) SetResult(_ context.Context, j *job.Job, value any) error {
	return s.put(result.FromJob(j, value, "", ""))
}

// SetError implements result.Backend.
func (s *Store) SetError(_ context.Context, j *job.Job, errSummary, traceback string) error {
	return s.put(result.FromJob(j, nil, errSummary, traceback))
}

// put stores a record unless a terminal one already exists for the id.
func (s *Store) put(rec *result.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.ID]; ok && existing.Status.Terminal() {
		return nil
	}
	s.records[rec.ID] = rec
	return nil
}

// GetResult implements result.Backend.
func (s *Store) GetResult(_ context.Context, id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != job.StatusSuccess {
		return nil, nil
	}
	return rec.Result, nil
}

// GetError implements result.Backend.
func (s *Store) GetError(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.ErrorSummary == "" {
		return "", nil
	}
	return rec.ErrorSummary, nil
}

// GetFull implements result.Backend.
func (s *Store) GetFull(_ context.Context, id string) (*result.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// ListJobs implements result.Backend.
func (s *Store) ListJobs(_ context.Context, f result.Filter) ([]result.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]result.Summary, 0, len(s.records))
	for _, rec := range s.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		summaries = append(summaries, result.Summary{
			ID:         rec.ID,
			FuncName:   rec.FuncName,
			Status:     rec.Status,
			FinishedAt: rec.FinishedAt,
		})
	}
	sort.Slice(summaries, func(i, k int) bool {
		return summaries[i].FinishedAt.After(summaries[k].FinishedAt)
	})
	if f.Limit > 0 && len(summaries) > f.Limit {
		summaries = summaries[:f.Limit]
	}
	return summaries, nil
}

// Close implements result.Backend.
func (s *Store) Close() error { return nil }

// Factory builds memory result stores from the runtime configuration.
func Factory(_ nuvom.Config) (result.Backend, error) {
	return New(), nil
}
