// Package fileresult provides the file-based result backend: one record
// per job id under a root directory, written atomically via a *.tmp
// rename. Needs nothing beyond a filesystem, which makes it the durable
// default on hosts without an embedded database.
//
// Layout: <root>/<id>.res, a single msgpack-encoded record.
package fileresult

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/result"
)

var _ result.Backend = (*Store)(nil)

const resExt = ".res"

// Store is a file-per-record result backend.
type Store struct {
	root   string
	logger *slog.Logger

	// mu orders the read-check-write in put; cross-process writers are
	// not coordinated (single-writer per directory, like the queue).
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates (or reopens) a file result store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileresult: create %s: %w", dir, err)
	}
	s := &Store{root: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetResult implements result.Backend.
func (s *Store) SetResult(_ context.Context, j *job.Job, value any) error {
	return s.put(result.FromJob(j, value, "", ""))
}

// SetError implements result.Backend.
func (s *Store) SetError(_ context.Context, j *job.Job, errSummary, traceback string) error {
	return s.put(result.FromJob(j, nil, errSummary, traceback))
}

func (s *Store) put(rec *result.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Terminal records are immutable.
	if existing, err := s.read(rec.ID); err == nil && existing != nil && existing.Status.Terminal() {
		return nil
	}

	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: record %s: %v", nuvom.ErrUnsupportedValue, rec.ID, err)
	}

	tmp := filepath.Join(s.root, rec.ID+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: write record: %v", nuvom.ErrBackendUnavailable, err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		return fmt.Errorf("%w: publish record: %v", nuvom.ErrBackendUnavailable, err)
	}
	return nil
}

// GetResult implements result.Backend.
func (s *Store) GetResult(_ context.Context, id string) (any, error) {
	rec, err := s.read(id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Status != job.StatusSuccess {
		return nil, nil
	}
	return rec.Result, nil
}

// GetError implements result.Backend.
func (s *Store) GetError(_ context.Context, id string) (string, error) {
	rec, err := s.read(id)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ErrorSummary, nil
}

// GetFull implements result.Backend.
func (s *Store) GetFull(_ context.Context, id string) (*result.Record, error) {
	return s.read(id)
}

// ListJobs implements result.Backend.
func (s *Store) ListJobs(_ context.Context, f result.Filter) ([]result.Summary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: scan results: %v", nuvom.ErrBackendUnavailable, err)
	}

	var summaries []result.Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), resExt) {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(e.Name(), resExt))
		if err != nil || rec == nil {
			continue
		}
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

func (s *Store) path(id string) string {
	return filepath.Join(s.root, id+resExt)
}

// read decodes the record for id, returning (nil, nil) when absent. An
// undecodable record is quarantined and reported as absent.
func (s *Store) read(id string) (*result.Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read record: %v", nuvom.ErrBackendUnavailable, err)
	}

	var rec result.Record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		if renameErr := os.Rename(s.path(id), s.path(id)+".corrupt"); renameErr == nil {
			s.logger.Warn("quarantined corrupt result record",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil, nil
	}
	return &rec, nil
}

// Factory builds file result stores from the runtime configuration.
func Factory(cfg nuvom.Config) (result.Backend, error) {
	return New(cfg.ResultDir)
}
