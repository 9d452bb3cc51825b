// CLAUDE:SUMMARY Batch capture job queue in SQLite: fingerprint-deduplicated enqueue, atomic claim, completion and retry bookkeeping.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schema for the capture_jobs table. At most one queued or running job
// exists per fingerprint.
const Schema = `
CREATE TABLE IF NOT EXISTS capture_jobs (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	url         TEXT NOT NULL,
	request     TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	output      TEXT NOT NULL DEFAULT '',
	format      TEXT NOT NULL DEFAULT '',
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	bytes       INTEGER NOT NULL DEFAULT 0,
	not_before  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_capture_jobs_active
	ON capture_jobs(fingerprint) WHERE status IN ('queued', 'running');
CREATE INDEX IF NOT EXISTS idx_capture_jobs_status
	ON capture_jobs(status, created_at);
`

// Job states.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

var (
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("store: job not found")
	// ErrNoJob is returned by Claim when the queue is empty.
	ErrNoJob = errors.New("store: no queued job")
)

// Job is a row of capture_jobs.
type Job struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	URL         string    `json:"url"`
	Request     []byte    `json:"-"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	Output      string    `json:"output,omitempty"`
	Format      string    `json:"format,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Bytes       int       `json:"bytes,omitempty"`
	// NotBefore is the earliest time a retried job is claimed again.
	NotBefore   time.Time `json:"not_before,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Result is what a finished capture records on its job.
type Result struct {
	Output string
	Format string
	Width  int
	Height int
	Bytes  int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets how many claims a job gets before it fails for
// good. Default: 3.
func WithMaxAttempts(n int) Option { return func(s *Store) { s.maxAttempts = n } }

// WithRetryBackoff sets the wait before a retried job is claimed again,
// doubled with each attempt. Zero retries at once. Default: 30s.
func WithRetryBackoff(d time.Duration) Option { return func(s *Store) { s.backoff = max(d, 0) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Store is the job queue.
type Store struct {
	db          *sql.DB
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
	newID       func() string
}

// Open opens (or creates) the job database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	s, err := New(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:          db,
		maxAttempts: 3,
		backoff:     30 * time.Second,
		now:         time.Now,
		newID:       func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	for _, ddl := range []string{Schema, RunsSchema} {
		if _, err := db.Exec(ddl); err != nil {
			return nil, fmt.Errorf("store: schema: %w", err)
		}
	}
	return s, nil
}

// DB exposes the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Fingerprint identifies a capture request: the same URL with the same
// options yields the same fingerprint.
func Fingerprint(url string, request []byte) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(request)
	return hex.EncodeToString(h.Sum(nil))
}

// Enqueue adds a job unless an identical one is already queued or running,
// in which case that job is returned with created == false.
func (s *Store) Enqueue(ctx context.Context, url string, request []byte) (job *Job, created bool, err error) {
	if len(request) == 0 {
		request = []byte("{}")
	}
	fp := Fingerprint(url, request)
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := scanJob(tx.QueryRowContext(ctx, selectJob+
			` WHERE fingerprint = ? AND status IN ('queued', 'running')`, fp))
		if err == nil {
			job = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		now := s.now().UnixMilli()
		id := s.newID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO capture_jobs (id, fingerprint, url, request, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
			id, fp, url, string(request), now, now); err != nil {
			return fmt.Errorf("store: insert job: %w", err)
		}
		job = &Job{
			ID: id, Fingerprint: fp, URL: url, Request: request, Status: StatusQueued,
			CreatedAt: time.UnixMilli(now), UpdatedAt: time.UnixMilli(now),
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, created, nil
}

// Claim marks the oldest queued job that is due as running and returns it.
// Jobs waiting out a retry backoff are skipped.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	var job *Job
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		now := s.now().UnixMilli()
		j, err := scanJob(tx.QueryRowContext(ctx, selectJob+
			` WHERE status = 'queued' AND not_before <= ? ORDER BY created_at, id LIMIT 1`, now))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoJob
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE capture_jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
			WHERE id = ?`, now, j.ID); err != nil {
			return fmt.Errorf("store: claim %s: %w", j.ID, err)
		}
		j.Status = StatusRunning
		j.Attempts++
		j.UpdatedAt = time.UnixMilli(now)
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete records a successful capture.
func (s *Store) Complete(ctx context.Context, id string, r Result) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE capture_jobs
		SET status = 'done', error = '', output = ?, format = ?, width = ?, height = ?, bytes = ?, updated_at = ?
		WHERE id = ?`,
		r.Output, r.Format, r.Width, r.Height, r.Bytes, s.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: complete %s: %w", id, err)
	}
	return mustAffect(res, id)
}

// Fail records a failed attempt. A retryable failure puts the job back in
// the queue, not claimable before the backoff for its attempt count has
// passed, until it has used up its attempts.
func (s *Store) Fail(ctx context.Context, id string, cause error, retryable bool) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		var attempts int
		err := tx.QueryRowContext(ctx, `SELECT attempts FROM capture_jobs WHERE id = ?`, id).Scan(&attempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		now := s.now()
		status, notBefore := StatusFailed, int64(0)
		if retryable && attempts < s.maxAttempts {
			status = StatusQueued
			notBefore = now.Add(s.retryDelay(attempts)).UnixMilli()
		}
		_, err = tx.ExecContext(ctx, `UPDATE capture_jobs SET status = ?, error = ?, not_before = ?, updated_at = ? WHERE id = ?`,
			status, msg, notBefore, now.UnixMilli(), id)
		return err
	})
}

// retryDelay is the backoff after the given number of attempts.
func (s *Store) retryDelay(attempts int) time.Duration {
	if s.backoff <= 0 || attempts <= 0 {
		return s.backoff
	}
	return s.backoff << min(attempts-1, 10)
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

// List returns jobs, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	q := selectJob
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Requeue puts jobs left running by a crashed process back in the queue.
func (s *Store) Requeue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE capture_jobs SET status = 'queued', updated_at = ? WHERE status = 'running'`,
		s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectJob = `
	SELECT id, fingerprint, url, request, status, attempts, error, output, format,
	       width, height, bytes, not_before, created_at, updated_at
	FROM capture_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var req string
	var notBefore, created, updated int64
	if err := row.Scan(&j.ID, &j.Fingerprint, &j.URL, &req, &j.Status, &j.Attempts,
		&j.Error, &j.Output, &j.Format, &j.Width, &j.Height, &j.Bytes, &notBefore, &created, &updated); err != nil {
		return nil, err
	}
	if notBefore > 0 {
		j.NotBefore = time.UnixMilli(notBefore)
	}
	j.Request = []byte(req)
	j.CreatedAt = time.UnixMilli(created)
	j.UpdatedAt = time.UnixMilli(updated)
	return &j, nil
}

func mustAffect(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
