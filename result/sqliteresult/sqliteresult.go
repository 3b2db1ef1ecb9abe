// Package sqliteresult provides the embedded-relational result backend: a
// single-file SQLite database indexed on id, status, and finished_at so
// history queries stay cheap as records accumulate.
package sqliteresult

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/vmihailenco/msgpack/v5"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/result"
)

var _ result.Backend = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	id           TEXT PRIMARY KEY,
	func_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	value        BLOB,
	error        TEXT,
	traceback    TEXT,
	attempts     BLOB,
	retries_left INTEGER NOT NULL DEFAULT 0,
	max_retries  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER,
	started_at   INTEGER,
	finished_at  INTEGER
);
CREATE INDEX IF NOT EXISTS idx_results_status ON results (status);
CREATE INDEX IF NOT EXISTS idx_results_finished ON results (finished_at DESC);
`

// Store is a SQLite-backed result store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the result database at path.
func New(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqliteresult: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteresult: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SetResult implements result.Backend.
func (s *Store) SetResult(ctx context.Context, j *job.Job, value any) error {
	return s.put(ctx, result.FromJob(j, value, "", ""))
}

// SetError implements result.Backend.
func (s *Store) SetError(ctx context.Context, j *job.Job, errSummary, traceback string) error {
	return s.put(ctx, result.FromJob(j, nil, errSummary, traceback))
}

func (s *Store) put(ctx context.Context, rec *result.Record) error {
	valueBlob, err := msgpack.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("%w: record %s: %v", nuvom.ErrUnsupportedValue, rec.ID, err)
	}
	attemptsBlob, err := msgpack.Marshal(rec.Attempts)
	if err != nil {
		return fmt.Errorf("%w: record %s attempts: %v", nuvom.ErrUnsupportedValue, rec.ID, err)
	}

	// INSERT OR IGNORE keeps terminal records immutable: the first write
	// for an id wins.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO results
			(id, func_name, status, value, error, traceback, attempts,
			 retries_left, max_retries, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.FuncName, string(rec.Status), valueBlob, rec.ErrorSummary,
		rec.Traceback, attemptsBlob, rec.RetriesLeft, rec.MaxRetries,
		unixOrNil(rec.CreatedAt), unixOrNil(rec.StartedAt), unixOrNil(rec.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: persist record: %v", nuvom.ErrBackendUnavailable, err)
	}
	return nil
}

// GetResult implements result.Backend.
func (s *Store) GetResult(ctx context.Context, id string) (any, error) {
	rec, err := s.GetFull(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Status != job.StatusSuccess {
		return nil, nil
	}
	return rec.Result, nil
}

// GetError implements result.Backend.
func (s *Store) GetError(ctx context.Context, id string) (string, error) {
	rec, err := s.GetFull(ctx, id)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.ErrorSummary, nil
}

// GetFull implements result.Backend.
func (s *Store) GetFull(ctx context.Context, id string) (*result.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, func_name, status, value, error, traceback, attempts,
		       retries_left, max_retries, created_at, started_at, finished_at
		FROM results WHERE id = ?`, id)

	var (
		rec          result.Record
		status       string
		valueBlob    []byte
		attemptsBlob []byte
		errorText    sql.NullString
		traceback    sql.NullString
		createdAt    sql.NullInt64
		startedAt    sql.NullInt64
		finishedAt   sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.FuncName, &status, &valueBlob, &errorText,
		&traceback, &attemptsBlob, &rec.RetriesLeft, &rec.MaxRetries,
		&createdAt, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get record: %v", nuvom.ErrBackendUnavailable, err)
	}

	rec.Status = job.Status(status)
	rec.ErrorSummary = errorText.String
	rec.Traceback = traceback.String
	rec.CreatedAt = timeOrZero(createdAt)
	rec.StartedAt = timeOrZero(startedAt)
	rec.FinishedAt = timeOrZero(finishedAt)

	if len(valueBlob) > 0 {
		if err := msgpack.Unmarshal(valueBlob, &rec.Result); err != nil {
			return nil, fmt.Errorf("%w: decode value for %s: %v", nuvom.ErrCorruptRecord, id, err)
		}
	}
	if len(attemptsBlob) > 0 {
		if err := msgpack.Unmarshal(attemptsBlob, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("%w: decode attempts for %s: %v", nuvom.ErrCorruptRecord, id, err)
		}
	}
	return &rec, nil
}

// ListJobs implements result.Backend.
func (s *Store) ListJobs(ctx context.Context, f result.Filter) ([]result.Summary, error) {
	query := `SELECT id, func_name, status, finished_at FROM results`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY finished_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", nuvom.ErrBackendUnavailable, err)
	}
	defer rows.Close()

	var summaries []result.Summary
	for rows.Next() {
		var (
			sm         result.Summary
			status     string
			finishedAt sql.NullInt64
		)
		if err := rows.Scan(&sm.ID, &sm.FuncName, &status, &finishedAt); err != nil {
			return nil, fmt.Errorf("%w: scan summary: %v", nuvom.ErrBackendUnavailable, err)
		}
		sm.Status = job.Status(status)
		sm.FinishedAt = timeOrZero(finishedAt)
		summaries = append(summaries, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate summaries: %v", nuvom.ErrBackendUnavailable, err)
	}
	return summaries, nil
}

// Close implements result.Backend.
func (s *Store) Close() error { return s.db.Close() }

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func timeOrZero(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64).UTC()
}

// Factory builds sqlite result stores from the runtime configuration.
func Factory(cfg nuvom.Config) (result.Backend, error) {
	return New(cfg.SQLiteResultPath)
}
