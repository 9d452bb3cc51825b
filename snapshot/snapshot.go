// CLAUDE:SUMMARY Snapper facade: owns the browser, runs one capture session per request, encodes and delivers to sinks.
// Package snapshot captures web pages into raster images. A Snapper owns
// a Chrome instance, opens one tab per request, runs a capture.Session
// against it, encodes the canvas and hands the artifact to its sinks.
//
// The same Snapper backs every front-end: the command line, the HTTP
// service (RegisterHTTP), the MCP tools (RegisterMCP) and the batch
// worker (RunPending).
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot/internal/browser"
	"github.com/hazyhaar/html2png/snapshot/internal/config"
	"github.com/hazyhaar/html2png/snapshot/internal/guard"
	"github.com/hazyhaar/html2png/snapshot/internal/kit"
	"github.com/hazyhaar/html2png/snapshot/internal/sink"
	"github.com/hazyhaar/html2png/snapshot/internal/store"
)

// ErrRenderer is returned when the browser could not be started, a tab
// could not be opened or the document could not be loaded.
var ErrRenderer = errors.New("snapshot: renderer unavailable")

// Page is a renderer that must be released after one capture.
type Page interface {
	capture.Renderer
	Close() error
}

// PageOptions are the per-capture page toggles.
type PageOptions = browser.TabOptions

// Opener opens a fresh page for one capture.
type Opener func(ctx context.Context, opts PageOptions) (Page, error)

// Resolver looks up host addresses for the URL guard.
type Resolver = guard.Resolver

// Result is a delivered capture.
type Result struct {
	Name     string
	URL      string
	Rect     image.Rectangle
	Artifact *encode.Artifact
	Capture  *capture.Result
}

// Option configures a Snapper.
type Option func(*Snapper)

// WithSinks adds artifact destinations.
func WithSinks(sinks ...Sink) Option {
	return func(s *Snapper) { s.sinks = append(s.sinks, sinks...) }
}

// WithStore attaches a job store for Enqueue and RunPending.
func WithStore(st *Store) Option {
	return func(s *Snapper) { s.store = st }
}

// WithOpener replaces the Chrome tab opener. No browser is launched.
func WithOpener(open Opener) Option {
	return func(s *Snapper) { s.open = open }
}

// WithResolver sets the resolver used by the URL guard.
func WithResolver(r Resolver) Option {
	return func(s *Snapper) { s.checker.Resolver = r }
}

// Snapper runs captures. Captures are serialised: a tab owns the viewport
// for the whole tile walk.
type Snapper struct {
	cfg      *config.Config
	mgr      *browser.Manager
	open     Opener
	sinks    []Sink
	sinkR    *sink.Router
	store    *store.Store
	checker  guard.URLChecker
	sanitize *bluemonday.Policy
	sem      chan struct{}
	logger   *slog.Logger
}

// New creates a Snapper from configuration. A nil cfg uses defaults.
func New(cfg *Config, logger *slog.Logger, opts ...Option) *Snapper {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Snapper{
		cfg:      cfg,
		checker:  guard.URLChecker{AllowPrivate: cfg.Server.AllowPrivate},
		sanitize: inlinePolicy(),
		sem:      make(chan struct{}, 1),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.sinkR = sink.NewRouter(logger, s.sinks...)

	if s.open == nil {
		level, err := browser.ParseStealth(cfg.Browser.Stealth)
		if err != nil {
			logger.Warn("snapshot: stealth level", "error", err)
		}
		if cfg.Browser.Show {
			level = browser.LevelHeadful
		}
		s.mgr = browser.NewManager(browser.Config{
			RemoteURL:       cfg.Browser.Remote,
			Bin:             cfg.Browser.Bin,
			NoSandbox:       cfg.Browser.NoSandbox,
			MemoryLimit:     cfg.Browser.MemoryLimit,
			RecycleInterval: cfg.Browser.RecycleInterval,
			Stealth:         level,
			XvfbDisplay:     cfg.Browser.XvfbDisplay,
			Logger:          logger,
		})
		mgr := s.mgr
		s.open = func(ctx context.Context, opts PageOptions) (Page, error) {
			return browser.OpenTab(ctx, mgr, opts)
		}
	}
	return s
}

// inlinePolicy sanitises caller supplied documents. Element ids and names
// survive so marker targets keep working.
func inlinePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("name").Globally()
	p.AllowStyling()
	return p
}

// Config returns the effective configuration.
func (s *Snapper) Config() *Config { return s.cfg }

// Start launches the browser. It is optional: the first capture launches
// Chrome on demand.
func (s *Snapper) Start(ctx context.Context) error {
	if s.mgr == nil {
		return nil
	}
	if err := s.mgr.Start(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRenderer, err)
	}
	return nil
}

// Stop closes the browser, the sinks and the store.
func (s *Snapper) Stop() error {
	var errs []error
	if s.mgr != nil {
		errs = append(errs, s.mgr.Close())
	}
	errs = append(errs, s.sinkR.Close())
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}

// CheckURL applies the remote URL guard used by the network front-ends.
func (s *Snapper) CheckURL(ctx context.Context, raw string) error {
	uri, err := NormalizeURL(raw)
	if err != nil {
		return err
	}
	return s.checker.Check(ctx, uri)
}

// Capture renders req, encodes it and delivers the artifact to every sink.
// On any fatal error nothing is delivered.
func (s *Snapper) Capture(ctx context.Context, req Request) (*Result, error) {
	res, err := s.render(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.sinkR.Len() > 0 {
		if err := s.sinkR.Deliver(ctx, s.artifact(res, "")); err != nil {
			return res, fmt.Errorf("snapshot: deliver %s: %w", res.Name, err)
		}
	}
	return res, nil
}

func (s *Snapper) artifact(res *Result, jobID string) Artifact {
	return Artifact{
		Name:   res.Name,
		URL:    res.URL,
		JobID:  jobID,
		Format: res.Artifact.Format,
		Width:  res.Artifact.Size.X,
		Height: res.Artifact.Size.Y,
		Data:   res.Artifact.Data,
	}
}

// render runs one capture without delivering it. Attempts on valid
// requests are journaled when a store is attached.
func (s *Snapper) render(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := s.renderPage(ctx, req)
	if s.store != nil {
		s.journal(ctx, req, res, err, time.Since(start))
	}
	return res, err
}

func (s *Snapper) renderPage(ctx context.Context, req Request) (*Result, error) {

	uri := ""
	if req.HTML != "" {
		uri = dataURL(s.sanitize.Sanitize(req.HTML))
	} else {
		var err error
		if uri, err = NormalizeURL(req.URL); err != nil {
			return nil, err
		}
	}

	eopts := req.encodeOptions(s.cfg.Output, req.Name)
	name := req.Name
	if name == "" {
		name = ArtifactName(uri, eopts.Format)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	page, err := s.open(ctx, s.pageOptions(req))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRenderer, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			s.logger.Warn("snapshot: close page", "error", err)
		}
	}()

	sess := capture.NewSession(page, s.captureOptions(req))
	cres, err := sess.Run(ctx, uri, req.Target())
	if err != nil {
		return nil, classify(err)
	}
	if cres.LoadTimedOut {
		s.logger.Warn("snapshot: load did not complete, captured anyway",
			"url", shortURL(uri), "timeout", req.timeout(s.cfg.Capture.Timeout))
	}

	art, err := encode.Bytes(cres.Image, eopts)
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot: captured",
		"transport", kit.GetTransport(ctx), "request_id", kit.GetRequestID(ctx), "name", name, "url", shortURL(uri), "rect", cres.Rect,
		"size", art.Size, "format", art.Format, "bytes", len(art.Data))
	return &Result{Name: name, URL: uri, Rect: cres.Rect, Artifact: art, Capture: cres}, nil
}

func (s *Snapper) journal(ctx context.Context, req Request, res *Result, err error, elapsed time.Duration) {
	run := &store.Run{
		RequestID: kit.GetRequestID(ctx),
		Transport: kit.GetTransport(ctx),
		URL:       req.URL,
		Target:    req.Target().Name(),
		Status:    runStatus(err),
		Duration:  elapsed,
	}
	if req.HTML != "" {
		run.URL = "inline"
	}
	if run.Transport == "batch" {
		run.JobID = run.RequestID
	}
	if err != nil {
		run.Error = err.Error()
	}
	if res != nil {
		run.Width = res.Artifact.Size.X
		run.Height = res.Artifact.Size.Y
		run.Tiles = res.Capture.Tiles
		run.Clamped = res.Capture.Clamped
		run.Blank = res.Capture.Blank
		run.LoadTimedOut = res.Capture.LoadTimedOut
	}
	// The journal outlives a cancelled request.
	if err := s.store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn("snapshot: journal run", "error", err)
	}
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return store.RunOK
	case errors.Is(err, capture.ErrConfig):
		return store.RunConfig
	case capture.IsDetection(err):
		return store.RunDetect
	case errors.Is(err, capture.ErrCaptureFailed):
		return store.RunCapture
	case encode.IsEncode(err):
		return store.RunEncode
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return store.RunCancelled
	}
	return store.RunRenderer
}

func (s *Snapper) pageOptions(req Request) PageOptions {
	b := s.cfg.Browser
	return PageOptions{
		Viewport:        image.Pt(b.ViewportWidth, b.ViewportHeight),
		UserAgent:       b.UserAgent,
		DisableJS:       b.DisableJS || req.DisableJS,
		DisablePlugins:  b.DisablePlugins || req.DisablePlugins,
		DisableImages:   b.DisableImages || req.DisableImages,
		DisableRedirect: b.DisableRedirect || req.DisableRedirect,
		KillPopups:      b.KillPopups || req.KillPopups,
	}
}

func (s *Snapper) captureOptions(req Request) capture.Options {
	c := s.cfg.Capture
	return capture.Options{
		LoadTimeout:  req.timeout(c.Timeout),
		Settle:       c.Settle,
		PollInterval: c.PollInterval,
		ProbeMargin:  c.ProbeMargin,
		TileMargin:   c.TileMargin,
		PluginDelay:  c.PluginDelay,
		Lenient:      c.Lenient || req.Lenient,
		MaxArea:      c.MaxArea,
		Logger:       s.logger,
	}
}

// classify marks errors that are not part of the capture taxonomy as
// renderer failures.
func classify(err error) error {
	switch {
	case errors.Is(err, capture.ErrConfig),
		errors.Is(err, capture.ErrCaptureFailed),
		capture.IsDetection(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %w", ErrRenderer, err)
}

// shortURL keeps data URLs out of the logs.
func shortURL(uri string) string {
	if len(uri) > 5 && uri[:5] == "data:" {
		return "data:inline"
	}
	return uri
}
