package store

import (
	"context"
	"time"
)

// RunsSchema for the capture_runs journal: one row per capture attempt,
// whatever the front-end.
const RunsSchema = `
CREATE TABLE IF NOT EXISTS capture_runs (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL DEFAULT '',
	request_id     TEXT NOT NULL DEFAULT '',
	transport      TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL,
	target         TEXT NOT NULL,
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	width          INTEGER NOT NULL DEFAULT 0,
	height         INTEGER NOT NULL DEFAULT 0,
	tiles          INTEGER NOT NULL DEFAULT 0,
	clamped        INTEGER NOT NULL DEFAULT 0,
	blank          INTEGER NOT NULL DEFAULT 0,
	load_timed_out INTEGER NOT NULL DEFAULT 0,
	duration_ms    INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capture_runs_created
	ON capture_runs(created_at DESC);
`

// Run outcomes.
const (
	RunOK        = "ok"
	RunConfig    = "config"
	RunDetect    = "detection"
	RunCapture   = "capture"
	RunEncode    = "encode"
	RunRenderer  = "renderer"
	RunCancelled = "cancelled"
)

// Run is one journal entry.
type Run struct {
	ID           string        `json:"id"`
	JobID        string        `json:"job_id,omitempty"`
	RequestID    string        `json:"request_id,omitempty"`
	Transport    string        `json:"transport,omitempty"`
	URL          string        `json:"url"`
	Target       string        `json:"target"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Width        int           `json:"width,omitempty"`
	Height       int           `json:"height,omitempty"`
	Tiles        int           `json:"tiles,omitempty"`
	Clamped      int           `json:"clamped,omitempty"`
	Blank        int           `json:"blank,omitempty"`
	LoadTimedOut bool          `json:"load_timed_out,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	CreatedAt    time.Time     `json:"created_at"`
}

// RecordRun appends r to the journal. ID and CreatedAt are filled when empty.
func (s *Store) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		r.ID = s.newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	timedOut := 0
	if r.LoadTimedOut {
		timedOut = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_runs (id, job_id, request_id, transport, url, target, status, error,
			width, height, tiles, clamped, blank, load_timed_out, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.RequestID, r.Transport, r.URL, r.Target, r.Status, r.Error,
		r.Width, r.Height, r.Tiles, r.Clamped, r.Blank, timedOut,
		r.Duration.Milliseconds(), r.CreatedAt.UnixMilli())
	return err
}

// Runs returns the latest journal entries, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, request_id, transport, url, target, status, error,
		       width, height, tiles, clamped, blank, load_timed_out, duration_ms, created_at
		FROM capture_runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var r Run
		var timedOut int
		var ms, created int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.RequestID, &r.Transport, &r.URL, &r.Target,
			&r.Status, &r.Error, &r.Width, &r.Height, &r.Tiles, &r.Clamped, &r.Blank,
			&timedOut, &ms, &created); err != nil {
			return nil, err
		}
		r.LoadTimedOut = timedOut != 0
		r.Duration = time.Duration(ms) * time.Millisecond
		r.CreatedAt = time.UnixMilli(created)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
