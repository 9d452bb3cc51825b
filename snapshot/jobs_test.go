package snapshot_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/html2png/snapshot"
	"github.com/hazyhaar/html2png/snapshot/internal/store"
)

func TestRunPending_WritesArtifactAndCompletes(t *testing.T) {
	cfg := testConfig(t)
	r := newRig(t, cfg, snapshot.WithStore(store.OpenMemory(t)))
	ctx := context.Background()

	job, created, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://example.com/page", Width: 300, Height: 200})
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}

	n, err := r.snap.RunPending(ctx)
	if err != nil {
		t.Fatalf("RunPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("processed %d jobs", n)
	}

	done, err := r.snap.Job(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != snapshot.JobDone {
		t.Fatalf("status = %s (%s)", done.Status, done.Error)
	}
	if done.Width != 300 || done.Height != 200 || done.Format != "png" {
		t.Fatalf("job result = %dx%d %s", done.Width, done.Height, done.Format)
	}
	if filepath.Dir(done.Output) != filepath.Clean(cfg.Output.Dir) {
		t.Fatalf("output %q outside %q", done.Output, cfg.Output.Dir)
	}
	info, err := os.Stat(done.Output)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if int(info.Size()) != done.Bytes {
		t.Fatalf("artifact size = %d, recorded %d", info.Size(), done.Bytes)
	}
}

func TestRunPending_DetectionFailureIsFinal(t *testing.T) {
	cfg := testConfig(t)
	r := newRig(t, cfg, snapshot.WithStore(store.OpenMemory(t)))
	ctx := context.Background()

	job, _, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://example.com", Marker: "absent"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.snap.RunPending(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := r.snap.Job(ctx, job.ID)
	if got.Status != snapshot.JobFailed || got.Attempts != 1 {
		t.Fatalf("job = %s after %d attempts", got.Status, got.Attempts)
	}
	if got.Error == "" {
		t.Fatal("failure cause not recorded")
	}
	entries, _ := os.ReadDir(cfg.Output.Dir)
	if len(entries) != 0 {
		t.Fatalf("output written for a failed job: %v", entries)
	}
}

func TestRunPending_RendererFailureRetriesAfterBackoff(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := store.OpenMemory(t,
		store.WithMaxAttempts(2),
		store.WithRetryBackoff(time.Minute),
		store.WithClock(func() time.Time { return now }))
	calls := 0
	s := snapshot.New(testConfig(t), discard,
		snapshot.WithStore(st),
		snapshot.WithResolver(publicResolver{}),
		snapshot.WithOpener(func(context.Context, snapshot.PageOptions) (snapshot.Page, error) {
			calls++
			return nil, errors.New("no browser")
		}))
	ctx := context.Background()

	job, _, err := s.Enqueue(ctx, snapshot.Request{URL: "http://example.com", Body: true})
	if err != nil {
		t.Fatal(err)
	}
	pass := func(want int) {
		t.Helper()
		n, err := s.RunPending(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Fatalf("processed %d jobs, want %d", n, want)
		}
	}

	// One attempt per pass: the retry waits for its backoff.
	pass(1)
	got, _ := s.Job(ctx, job.ID)
	if got.Status != snapshot.JobQueued || got.Attempts != 1 {
		t.Fatalf("job = %s after %d attempts", got.Status, got.Attempts)
	}
	pass(0)

	now = now.Add(time.Minute)
	pass(1)
	got, _ = s.Job(ctx, job.ID)
	if got.Status != snapshot.JobFailed || got.Attempts != 2 || calls != 2 {
		t.Fatalf("job = %s after %d attempts, %d opens", got.Status, got.Attempts, calls)
	}
}

func TestEnqueue_GuardAndValidation(t *testing.T) {
	r := newRig(t, nil, snapshot.WithStore(store.OpenMemory(t)))
	ctx := context.Background()

	if _, _, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://10.0.0.1/", Body: true}); err == nil {
		t.Fatal("private address accepted")
	}
	if _, _, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://example.com"}); err == nil {
		t.Fatal("request without target accepted")
	}

	job, created, err := r.snap.Enqueue(ctx, snapshot.Request{HTML: "<p id=x>hi</p>", Marker: "x"})
	if err != nil || !created {
		t.Fatalf("inline enqueue: created=%v err=%v", created, err)
	}
	if job.URL != "inline" {
		t.Fatalf("url = %q", job.URL)
	}
}

func TestRunPending_InlineMarker(t *testing.T) {
	cfg := testConfig(t)
	r := newRig(t, cfg, snapshot.WithStore(store.OpenMemory(t)))
	ctx := context.Background()

	job, _, err := r.snap.Enqueue(ctx, snapshot.Request{HTML: `<div id="box">x</div>`, Marker: "box", Format: "bmp"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.snap.RunPending(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := r.snap.Job(ctx, job.ID)
	if got.Status != snapshot.JobDone {
		t.Fatalf("status = %s (%s)", got.Status, got.Error)
	}
	if image.Pt(got.Width, got.Height) != image.Pt(100, 50) || got.Format != "bmp" {
		t.Fatalf("result = %dx%d %s", got.Width, got.Height, got.Format)
	}
	if filepath.Base(got.Output) != "inline-"+job.ID+".bmp" {
		t.Fatalf("output = %q", got.Output)
	}
}

func TestStartWorker_StopsWithContext(t *testing.T) {
	r := newRig(t, nil, snapshot.WithStore(store.OpenMemory(t)))
	ctx, cancel := context.WithCancel(context.Background())

	job, _, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://example.com", Body: true})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.snap.StartWorker(ctx) }()

	for {
		got, err := r.snap.Job(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == snapshot.JobDone {
			break
		}
		if got.Status == snapshot.JobFailed {
			t.Fatalf("job failed: %s", got.Error)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("StartWorker: %v", err)
	}
}

func TestJobs_WithoutStore(t *testing.T) {
	r := newRig(t, nil)
	if _, err := r.snap.RunPending(context.Background()); !errors.Is(err, snapshot.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestRuns_JournalEveryAttempt(t *testing.T) {
	r := newRig(t, nil, snapshot.WithStore(store.OpenMemory(t)))
	ctx := context.Background()

	job, _, err := r.snap.Enqueue(ctx, snapshot.Request{URL: "http://example.com", Body: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.snap.RunPending(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := r.snap.Capture(ctx, snapshot.Request{URL: "http://example.com", Marker: "nope"}); err == nil {
		t.Fatal("missing marker captured")
	}
	// Invalid requests never reach the renderer and are not journaled.
	r.snap.Capture(ctx, snapshot.Request{URL: "http://example.com"})

	runs, err := r.snap.Runs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	byStatus := map[string]*snapshot.Run{}
	for _, run := range runs {
		byStatus[run.Status] = run
	}
	ok := byStatus[store.RunOK]
	if ok == nil || ok.JobID != job.ID || ok.Transport != "batch" || ok.Width != 600 || ok.Tiles == 0 {
		t.Fatalf("batch run = %+v", ok)
	}
	det := byStatus[store.RunDetect]
	if det == nil || det.Target != "nope" || det.Error == "" || det.Transport != "cli" {
		t.Fatalf("detection run = %+v", det)
	}
}

func TestRuns_WithoutStore(t *testing.T) {
	r := newRig(t, nil)
	if _, err := r.snap.Runs(context.Background(), 10); !errors.Is(err, snapshot.ErrNoStore) {
		t.Fatalf("err = %v", err)
	}
}
