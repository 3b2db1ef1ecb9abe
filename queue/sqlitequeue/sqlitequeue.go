// Package sqlitequeue provides the embedded-relational queue backend: a
// single-file SQLite database with transactional dequeue and
// visibility-timeout leasing. WAL journaling plus a busy timeout tolerate
// concurrent readers; the database is treated as single-writer per file.
package sqlitequeue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/codec"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/queue"
)

var _ queue.Backend = (*Queue)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	payload          BLOB NOT NULL,
	status           TEXT NOT NULL,
	visible_at       INTEGER NOT NULL,
	lease_expires_at INTEGER,
	enqueued_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_dequeue ON jobs (status, visible_at, enqueued_at);
`

const (
	statusPending  = "pending"
	statusInflight = "inflight"
	statusCorrupt  = "corrupt"

	// pollInterval paces the blocking-dequeue loop.
	pollInterval = 20 * time.Millisecond
)

// Queue is a SQLite-backed queue.
type Queue struct {
	db     *sql.DB
	codec  codec.Codec
	vt     time.Duration
	logger *slog.Logger

	stopSweep chan struct{}
	sweepWG   sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets the lease duration for dequeued jobs.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) { q.vt = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New opens (or creates) the queue database at path and starts the lease
// sweeper.
func New(path string, c codec.Codec, opts ...Option) (*Queue, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitequeue: open %s: %w", path, err)
	}
	// A single writer connection avoids SQLITE_BUSY between in-process
	// transactions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitequeue: migrate: %w", err)
	}

	q := &Queue{
		db:        db,
		codec:     c,
		vt:        30 * time.Second,
		logger:    slog.Default(),
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.sweepWG.Add(1)
	go q.sweepLoop()
	return q, nil
}

// Enqueue implements queue.Backend.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) error {
	if j.EnqueuedAt.IsZero() {
		j.MarkEnqueued()
	}
	payload, err := q.codec.Encode(j)
	if err != nil {
		return err
	}

	now := time.Now().UnixNano()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, payload, status, visible_at, lease_expires_at, enqueued_at)
		VALUES (?, ?, ?, ?, NULL, ?)`,
		j.ID, payload, statusPending, now, j.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("sqlitequeue: job %s already enqueued", j.ID)
		}
		return fmt.Errorf("%w: enqueue: %v", nuvom.ErrBackendUnavailable, err)
	}
	return nil
}

// Dequeue implements queue.Backend.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		jobs, err := q.PopBatch(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(jobs) > 0 {
			return jobs[0], nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// PopBatch implements queue.Backend. The claim is one transaction: select
// visible pending rows in enqueue order, then flip them to inflight with a
// fresh lease.
func (q *Queue) PopBatch(ctx context.Context, n int) ([]*job.Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin dequeue: %v", nuvom.ErrBackendUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UnixNano()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM jobs
		WHERE status = ? AND visible_at <= ?
		ORDER BY enqueued_at
		LIMIT ?`,
		statusPending, now, n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: select pending: %v", nuvom.ErrBackendUnavailable, err)
	}

	type row struct {
		id      string
		payload []byte
	}
	var claimed []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan pending: %v", nuvom.ErrBackendUnavailable, err)
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate pending: %v", nuvom.ErrBackendUnavailable, err)
	}
	if len(claimed) == 0 {
		return nil, tx.Commit()
	}

	lease := time.Now().Add(q.vt).UnixNano()
	var jobs []*job.Job
	for _, r := range claimed {
		j, decErr := q.codec.Decode(r.payload)
		if decErr != nil {
			// Quarantine in place; the row never becomes visible again.
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ? WHERE id = ?`, statusCorrupt, r.id); err != nil {
				return nil, fmt.Errorf("%w: quarantine: %v", nuvom.ErrBackendUnavailable, err)
			}
			q.logger.Warn("quarantined corrupt record",
				slog.String("job_id", r.id),
				slog.String("error", decErr.Error()),
			)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, lease_expires_at = ? WHERE id = ?`,
			statusInflight, lease, r.id); err != nil {
			return nil, fmt.Errorf("%w: claim: %v", nuvom.ErrBackendUnavailable, err)
		}
		jobs = append(jobs, j)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit dequeue: %v", nuvom.ErrBackendUnavailable, err)
	}
	return jobs, nil
}

// Ack implements queue.Backend.
func (q *Queue) Ack(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND status = ?`, id, statusInflight)
	if err != nil {
		return fmt.Errorf("%w: ack: %v", nuvom.ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s not in flight", nuvom.ErrJobNotFound, id)
	}
	return nil
}

// Nack implements queue.Backend. The updated record replaces the held
// payload and becomes visible after delay.
func (q *Queue) Nack(ctx context.Context, j *job.Job, delay time.Duration) error {
	payload, err := q.codec.Encode(j)
	if err != nil {
		return err
	}

	visibleAt := time.Now().Add(delay).UnixNano()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET payload = ?, status = ?, visible_at = ?, lease_expires_at = NULL
		WHERE id = ? AND status = ?`,
		payload, statusPending, visibleAt, j.ID, statusInflight,
	)
	if err != nil {
		return fmt.Errorf("%w: nack: %v", nuvom.ErrBackendUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s not in flight", nuvom.ErrJobNotFound, j.ID)
	}
	return nil
}

// Qsize implements queue.Backend.
func (q *Queue) Qsize(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE status = ?`, statusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: qsize: %v", nuvom.ErrBackendUnavailable, err)
	}
	return n, nil
}

// Clear implements queue.Backend.
func (q *Queue) Clear(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status = ?`, statusPending); err != nil {
		return fmt.Errorf("%w: clear: %v", nuvom.ErrBackendUnavailable, err)
	}
	return nil
}

// SweepExpired resets inflight rows whose lease has elapsed back to
// pending, retries_left unchanged, and reports how many were recovered.
func (q *Queue) SweepExpired() (int, error) {
	now := time.Now().UnixNano()
	res, err := q.db.Exec(`
		UPDATE jobs
		SET status = ?, visible_at = ?, lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		statusPending, now, statusInflight, now,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", nuvom.ErrBackendUnavailable, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.logger.Warn("recovered expired leases", slog.Int64("count", n))
	}
	return int(n), nil
}

// Close implements queue.Backend.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.stopSweep)
		q.sweepWG.Wait()
		err = q.db.Close()
	})
	return err
}

func (q *Queue) sweepLoop() {
	defer q.sweepWG.Done()

	interval := q.vt / 2
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopSweep:
			return
		case <-ticker.C:
			if _, err := q.SweepExpired(); err != nil {
				q.logger.Error("lease sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Factory builds sqlite queues from the runtime configuration.
func Factory(cfg nuvom.Config) (queue.Backend, error) {
	c, err := codec.Get(cfg.SerializationBackend)
	if err != nil {
		return nil, err
	}
	return New(cfg.SQLiteQueuePath, c, WithVisibilityTimeout(cfg.VisibilityTimeout))
}
