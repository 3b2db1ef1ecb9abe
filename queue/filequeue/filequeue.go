// Package filequeue provides the file-backed queue: one file per pending
// job, atomic rename for claims, and a visibility-timeout sweeper for
// crash recovery. It needs nothing beyond a filesystem with atomic rename,
// which makes it the default durable choice on non-POSIX hosts.
//
// Layout under the queue root:
//
//	pending/<ns>-<id>.rec     visible jobs, lexicographic order = arrival order
//	inflight/<ns>-<id>.rec    leased jobs, <ns> is the claim time
//	<name>.corrupt            quarantined undecodable records
//
// Writes land in a *.tmp file first and are renamed into place, so a
// crash never leaves a half-written record where a reader can claim it.
package filequeue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/codec"
	"github.com/nahom-zewdu/Nuvom/job"
	"github.com/nahom-zewdu/Nuvom/queue"
)

var _ queue.Backend = (*Queue)(nil)

const (
	recExt     = ".rec"
	tmpExt     = ".tmp"
	corruptExt = ".corrupt"

	pendingDir  = "pending"
	inflightDir = "inflight"

	// pollInterval paces the blocking-dequeue scan loop.
	pollInterval = 20 * time.Millisecond
)

// Queue is a file-backed queue rooted at a directory.
type Queue struct {
	root     string
	codec    codec.Codec
	vt       time.Duration
	sweepEvr time.Duration
	logger   *slog.Logger

	// mu serializes claims within this process; cross-process safety
	// comes from atomic rename.
	mu sync.Mutex

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

// WithSweepInterval sets how often the expiry sweeper rescans inflight/.
func WithSweepInterval(d time.Duration) Option {
	return func(q *Queue) { q.sweepEvr = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates (or reopens) a file queue rooted at dir and starts its
// expiry sweeper.
func New(dir string, c codec.Codec, opts ...Option) (*Queue, error) {
	q := &Queue{
		root:      dir,
		codec:     c,
		vt:        30 * time.Second,
		logger:    slog.Default(),
		stopSweep: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.sweepEvr <= 0 {
		q.sweepEvr = q.vt / 2
		if q.sweepEvr < 50*time.Millisecond {
			q.sweepEvr = 50 * time.Millisecond
		}
	}

	for _, sub := range []string{pendingDir, inflightDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("filequeue: create %s: %w", sub, err)
		}
	}

	q.sweepWG.Add(1)
	go q.sweepLoop()
	return q, nil
}

// Enqueue implements queue.Backend.
func (q *Queue) Enqueue(_ context.Context, j *job.Job) error {
	if j.EnqueuedAt.IsZero() {
		j.MarkEnqueued()
	}
	data, err := q.codec.Encode(j)
	if err != nil {
		return err
	}

	name := recName(j.EnqueuedAt.UnixNano(), j.ID)
	tmp := filepath.Join(q.root, name+"."+uuid.NewString()+tmpExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filequeue: write record: %w", err)
	}
	dst := filepath.Join(q.root, pendingDir, name)
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("filequeue: publish record: %w", err)
	}
	syncDir(filepath.Join(q.root, pendingDir))

	q.logger.Debug("enqueued job",
		slog.String("job_id", j.ID),
		slog.String("path", dst),
	)
	return nil
}

// Dequeue implements queue.Backend. It polls the pending directory until
// a job is claimed or the timeout elapses.
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

// PopBatch implements queue.Backend. It claims up to n visible records by
// renaming them into inflight/, smallest filename first.
func (q *Queue) PopBatch(_ context.Context, n int) ([]*job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.pendingNames()
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixNano()
	var jobs []*job.Job
	for _, name := range names {
		if len(jobs) >= n {
			break
		}
		ns, jobID, ok := parseRecName(name)
		if !ok {
			continue
		}
		if ns > now {
			// Delayed requeue not yet visible. Names sort by timestamp,
			// so everything after this is in the future too.
			break
		}

		src := filepath.Join(q.root, pendingDir, name)
		claimed := filepath.Join(q.root, inflightDir, recName(now, jobID))
		if err := os.Rename(src, claimed); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // claimed by another process
			}
			return jobs, fmt.Errorf("filequeue: claim %s: %w", name, err)
		}

		data, err := os.ReadFile(claimed)
		if err != nil {
			return jobs, fmt.Errorf("filequeue: read claim: %w", err)
		}
		j, err := q.codec.Decode(data)
		if err != nil {
			q.quarantine(claimed, name, err)
			continue
		}
		jobs = append(jobs, j)
	}
	if len(jobs) > 0 {
		syncDir(filepath.Join(q.root, inflightDir))
	}
	return jobs, nil
}

// Ack implements queue.Backend.
func (q *Queue) Ack(_ context.Context, id string) error {
	path, err := q.findInflight(id)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: %s not in flight", nuvom.ErrJobNotFound, id)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filequeue: ack %s: %w", id, err)
	}
	return nil
}

// Nack implements queue.Backend. The updated record re-enters pending/
// named by its visibility time so delayed retries sort after live work.
func (q *Queue) Nack(_ context.Context, j *job.Job, delay time.Duration) error {
	held, err := q.findInflight(j.ID)
	if err != nil {
		return err
	}
	if held == "" {
		return fmt.Errorf("%w: %s not in flight", nuvom.ErrJobNotFound, j.ID)
	}

	data, err := q.codec.Encode(j)
	if err != nil {
		return err
	}

	visibleAt := time.Now().Add(delay).UnixNano()
	name := recName(visibleAt, j.ID)
	tmp := filepath.Join(q.root, name+"."+uuid.NewString()+tmpExt)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("filequeue: write nack record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(q.root, pendingDir, name)); err != nil {
		return fmt.Errorf("filequeue: publish nack record: %w", err)
	}
	syncDir(filepath.Join(q.root, pendingDir))

	if err := os.Remove(held); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filequeue: drop inflight record: %w", err)
	}
	return nil
}

// Qsize implements queue.Backend.
func (q *Queue) Qsize(_ context.Context) (int, error) {
	names, err := q.pendingNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Clear implements queue.Backend.
func (q *Queue) Clear(_ context.Context) error {
	names, err := q.pendingNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(q.root, pendingDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("filequeue: clear: %w", err)
		}
	}
	return nil
}

// Cleanup removes leftover *.tmp and *.corrupt files, e.g. after a crash.
func (q *Queue) Cleanup() (int, error) {
	entries, err := os.ReadDir(q.root)
	if err != nil {
		return 0, fmt.Errorf("filequeue: cleanup: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, tmpExt) || strings.HasSuffix(name, corruptExt) {
			if err := os.Remove(filepath.Join(q.root, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// SweepExpired returns inflight records whose lease has elapsed to the
// pending set and reports how many were recovered. The payload moves by
// rename, so retries_left is unchanged.
func (q *Queue) SweepExpired() (int, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, inflightDir))
	if err != nil {
		return 0, fmt.Errorf("filequeue: sweep: %w", err)
	}

	now := time.Now()
	recovered := 0
	for _, e := range entries {
		claimNs, jobID, ok := parseRecName(e.Name())
		if !ok {
			continue
		}
		if now.Sub(time.Unix(0, claimNs)) < q.vt {
			continue
		}

		src := filepath.Join(q.root, inflightDir, e.Name())
		dst := filepath.Join(q.root, pendingDir, recName(now.UnixNano(), jobID))
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // acked concurrently
			}
			return recovered, fmt.Errorf("filequeue: recover lease: %w", err)
		}
		recovered++
		q.logger.Warn("recovered expired lease",
			slog.String("job_id", jobID),
			slog.Duration("visibility_timeout", q.vt),
		)
	}
	if recovered > 0 {
		syncDir(filepath.Join(q.root, pendingDir))
	}
	return recovered, nil
}

// Close implements queue.Backend. It stops the sweeper; records on disk
// are untouched.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.stopSweep)
		q.sweepWG.Wait()
	})
	return nil
}

func (q *Queue) sweepLoop() {
	defer q.sweepWG.Done()
	ticker := time.NewTicker(q.sweepEvr)
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

// pendingNames lists pending record filenames in lexicographic order.
func (q *Queue) pendingNames() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, pendingDir))
	if err != nil {
		return nil, fmt.Errorf("filequeue: scan pending: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), recExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// quarantine moves an undecodable record out of circulation.
func (q *Queue) quarantine(claimedPath, origName string, decodeErr error) {
	dst := filepath.Join(q.root, origName+corruptExt)
	if err := os.Rename(claimedPath, dst); err != nil {
		q.logger.Error("failed to quarantine corrupt record",
			slog.String("path", claimedPath),
			slog.String("error", err.Error()),
		)
		return
	}
	q.logger.Warn("quarantined corrupt record",
		slog.String("path", dst),
		slog.String("error", decodeErr.Error()),
	)
}

// findInflight locates the inflight file for a job id, or "" if absent.
func (q *Queue) findInflight(id string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(q.root, inflightDir))
	if err != nil {
		return "", fmt.Errorf("filequeue: scan inflight: %w", err)
	}
	suffix := "-" + id + recExt
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			return filepath.Join(q.root, inflightDir, e.Name()), nil
		}
	}
	return "", nil
}

// recName builds "<ns>-<id>.rec" with a zero-padded timestamp so that
// lexicographic order equals numeric order.
func recName(ns int64, id string) string {
	return fmt.Sprintf("%020d-%s%s", ns, id, recExt)
}

// parseRecName splits "<ns>-<id>.rec" back into its parts.
func parseRecName(name string) (ns int64, id string, ok bool) {
	if !strings.HasSuffix(name, recExt) {
		return 0, "", false
	}
	base := strings.TrimSuffix(name, recExt)
	tsPart, idPart, found := strings.Cut(base, "-")
	if !found || idPart == "" {
		return 0, "", false
	}
	ns, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return ns, idPart, true
}

// syncDir fsyncs a directory after rename on platforms that support it.
// Failure is ignored: some filesystems (and Windows) refuse directory
// handles, and the rename itself is already durable enough for a queue
// that tolerates redelivery.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// Factory builds file queues from the runtime configuration.
func Factory(cfg nuvom.Config) (queue.Backend, error) {
	c, err := codec.Get(cfg.SerializationBackend)
	if err != nil {
		return nil, err
	}
	return New(cfg.QueueDir, c, WithVisibilityTimeout(cfg.VisibilityTimeout))
}
