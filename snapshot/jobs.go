package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot/internal/guard"
	"github.com/hazyhaar/html2png/snapshot/internal/kit"
	"github.com/hazyhaar/html2png/snapshot/internal/sink"
	"github.com/hazyhaar/html2png/snapshot/internal/store"
)

// ErrNoStore is returned by job operations on a Snapper without a store.
var ErrNoStore = errors.New("snapshot: no job store configured")

// Store is the batch job queue.
type Store = store.Store

// Job is one queued capture.
type Job = store.Job

// Job states.
const (
	JobQueued  = store.StatusQueued
	JobRunning = store.StatusRunning
	JobDone    = store.StatusDone
	JobFailed  = store.StatusFailed
)

// Run is one capture journal entry.
type Run = store.Run

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = store.ErrNotFound

// OpenStore opens (or creates) the job database described by cfg.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot: store.path is empty")
	}
	return store.Open(cfg.Path, store.WithMaxAttempts(cfg.MaxAttempts), store.WithRetryBackoff(cfg.RetryBackoff))
}

// Enqueue validates req and queues it. An identical pending request is
// returned instead of a new job, with created == false.
func (s *Snapper) Enqueue(ctx context.Context, req Request) (job *Job, created bool, err error) {
	if s.store == nil {
		return nil, false, ErrNoStore
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	target := "inline"
	if req.URL != "" {
		if err := s.CheckURL(ctx, req.URL); err != nil {
			return nil, false, err
		}
		if target, err = NormalizeURL(req.URL); err != nil {
			return nil, false, err
		}
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: encode request: %w", err)
	}
	return s.store.Enqueue(ctx, target, data)
}

// Job returns a job by id.
func (s *Snapper) Job(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Get(ctx, id)
}

// Jobs lists jobs, newest first. An empty status lists all.
func (s *Snapper) Jobs(ctx context.Context, status string, limit int) ([]*Job, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.List(ctx, status, limit)
}

// Runs returns the latest capture journal entries, newest first.
func (s *Snapper) Runs(ctx context.Context, limit int) ([]*Run, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.Runs(ctx, limit)
}

// RunPending claims and captures queued jobs until none is due. A job
// that fails and is retried waits out its backoff, so one pass makes at
// most one attempt per job.
// Artifacts are written under output.dir and delivered to the sinks. It
// returns the number of jobs processed.
func (s *Snapper) RunPending(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, ErrNoStore
	}
	out := sink.NewFile(s.cfg.Output.Dir)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		job, err := s.store.Claim(ctx)
		if errors.Is(err, store.ErrNoJob) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
		s.runJob(ctx, job, out)
	}
}

func (s *Snapper) runJob(ctx context.Context, job *Job, out *sink.File) {
	log := s.logger.With("job", job.ID, "attempt", job.Attempts)
	ctx = kit.WithRequestID(kit.WithTransport(ctx, "batch"), job.ID)

	var req Request
	if err := json.Unmarshal(job.Request, &req); err != nil {
		s.failJob(ctx, job, fmt.Errorf("snapshot: decode request: %w", err), false)
		return
	}
	if req.Name == "" {
		req.Name = jobName(job, req, s.cfg.Output)
	}

	res, err := s.render(ctx, req)
	if err != nil {
		s.failJob(ctx, job, err, retryable(err))
		return
	}

	art := s.artifact(res, job.ID)
	if err := out.Deliver(ctx, art); err != nil {
		s.failJob(ctx, job, err, false)
		return
	}
	if s.sinkR.Len() > 0 {
		if err := s.sinkR.Deliver(ctx, art); err != nil {
			log.Warn("snapshot: job sinks failed", "error", err)
		}
	}

	path, _ := guard.SafePath(s.cfg.Output.Dir, res.Name)
	if err := s.store.Complete(ctx, job.ID, store.Result{
		Output: path,
		Format: string(res.Artifact.Format),
		Width:  res.Artifact.Size.X,
		Height: res.Artifact.Size.Y,
		Bytes:  len(res.Artifact.Data),
	}); err != nil {
		log.Error("snapshot: complete job", "error", err)
		return
	}
	log.Info("snapshot: job done", "output", path)
}

func (s *Snapper) failJob(ctx context.Context, job *Job, cause error, retry bool) {
	s.logger.Warn("snapshot: job failed", "job", job.ID, "retryable", retry, "error", cause)
	if err := s.store.Fail(ctx, job.ID, cause, retry); err != nil {
		s.logger.Error("snapshot: record job failure", "job", job.ID, "error", err)
	}
}

// jobName gives each job its own artifact file next to the others.
func jobName(job *Job, req Request, out OutputConfig) string {
	f := req.encodeOptions(out, "").Format
	base := strings.TrimSuffix(ArtifactName(job.URL, f), f.Ext())
	return base + "-" + job.ID + f.Ext()
}

// retryable reports whether another attempt may succeed. Requests that
// are wrong in themselves fail for good.
func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, capture.ErrConfig),
		capture.IsDetection(err),
		encode.IsEncode(err):
		return false
	}
	return true
}

// StartWorker requeues jobs left running by a previous process, then runs
// RunPending every store.poll_interval until ctx is done.
func (s *Snapper) StartWorker(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	n, err := s.store.Requeue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("snapshot: requeued interrupted jobs", "count", n)
	}

	interval := s.cfg.Store.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunPending(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("snapshot: run pending", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
