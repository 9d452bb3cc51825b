package snapshot_test

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/html2png/capture/capturetest"
	"github.com/hazyhaar/html2png/snapshot"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakePage adapts the in-memory document to snapshot.Page.
type fakePage struct {
	*capturetest.Document
}

func (fakePage) Close() error { return nil }

// publicResolver answers every lookup with a public address.
type publicResolver struct{}

func (publicResolver) LookupHost(context.Context, string) ([]string, error) {
	return []string{"93.184.216.34"}, nil
}

// rig is a Snapper driving one fake document.
type rig struct {
	snap *snapshot.Snapper
	doc  *capturetest.Document

	mu     sync.Mutex
	opened []snapshot.PageOptions
}

func (r *rig) open(_ context.Context, opts snapshot.PageOptions) (snapshot.Page, error) {
	r.mu.Lock()
	r.opened = append(r.opened, opts)
	r.mu.Unlock()
	return fakePage{r.doc}, nil
}

func (r *rig) openedOptions() []snapshot.PageOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]snapshot.PageOptions(nil), r.opened...)
}

func testConfig(t *testing.T) *snapshot.Config {
	t.Helper()
	cfg := snapshot.DefaultConfig()
	cfg.Capture.Timeout = time.Second
	cfg.Capture.Settle = time.Microsecond
	cfg.Capture.PollInterval = time.Microsecond
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func newRig(t *testing.T, cfg *snapshot.Config, opts ...snapshot.Option) *rig {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	r := &rig{doc: capturetest.New(image.Pt(600, 400), image.Pt(600, 400))}
	r.doc.Elements["box"] = image.Rect(10, 20, 110, 70)
	opts = append([]snapshot.Option{
		snapshot.WithOpener(r.open),
		snapshot.WithResolver(publicResolver{}),
	}, opts...)
	r.snap = snapshot.New(cfg, discard, opts...)
	return r
}
