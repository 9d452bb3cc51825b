// CLAUDE:SUMMARY Capture session: owns the renderer for one run, resolves bounds, walks tiles, returns the canvas.
// Package capture turns a document of unknown size into one raster image
// through a renderer that only exposes a fixed-size viewport.
//
// A Session runs the pipeline for one document:
//
//	Detector     -> final capture rectangle (fixed, marker, or body)
//	Orchestrator -> row-major tile walk through Viewport + TileCapturer
//	             -> composited *image.RGBA of exactly the rectangle's size
//
// Everything that depends on asynchronous renderer work is a bounded
// suspension point (see Until). Sessions are not safe for concurrent use;
// a Renderer must be driven by one Session at a time.
package capture

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"
)

// Options tunes a Session. The zero value is usable.
type Options struct {
	// LoadTimeout bounds the wait for load completion. Default: 30s.
	LoadTimeout time.Duration
	// Settle bounds the renderer cycle after each move or resize. Default: 50ms.
	Settle time.Duration
	// PollInterval is the pump slice between predicate checks. Default: 25ms.
	PollInterval time.Duration
	// ProbeMargin is added to the first marker reading. Default: 200.
	ProbeMargin int
	// TileMargin is removed from the initial visible area. Default: 10,
	// negative for none.
	TileMargin int
	// PluginDelay is held before tiling when the document embeds objects.
	// Zero skips the embedded object check.
	PluginDelay time.Duration
	// Lenient leaves failed tiles as background instead of aborting.
	Lenient bool
	// MaxArea caps the capture rectangle in pixels. Zero is unlimited.
	MaxArea int
	// Background fills canvas areas no tile covers. Default: white.
	Background color.Color

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 30 * time.Second
	}
	if o.Settle <= 0 {
		o.Settle = 50 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ProbeMargin <= 0 {
		o.ProbeMargin = DefaultProbeMargin
	}
	if o.TileMargin < 0 {
		o.TileMargin = 0
	} else if o.TileMargin == 0 {
		o.TileMargin = DefaultTileMargin
	}
	if o.Background == nil {
		o.Background = color.White
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Result is the outcome of a successful run.
type Result struct {
	Image *image.RGBA
	// Rect is the capture rectangle in document coordinates.
	Rect image.Rectangle
	// Tile is the nominal tile size used for the walk.
	Tile image.Point
	Stats
	LoadTimedOut   bool
	EmbeddedObject bool
	Elapsed        time.Duration
}

// Session holds all mutable state of one capture run.
type Session struct {
	r       Renderer
	opts    Options
	vp      *Viewport
	initial State
}

// NewSession prepares a run against r.
func NewSession(r Renderer, opts Options) *Session {
	opts.defaults()
	return &Session{
		r:    r,
		opts: opts,
		vp:   NewViewport(r, opts.Settle, opts.Logger),
	}
}

// Viewport exposes the session's viewport controller.
func (s *Session) Viewport() *Viewport { return s.vp }

// Run loads uri, resolves t and captures it.
func (s *Session) Run(ctx context.Context, uri string, t Target) (*Result, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := s.opts.Logger

	if err := s.r.Load(ctx, uri); err != nil {
		return nil, fmt.Errorf("capture: load %s: %w", uri, err)
	}
	initial, err := s.vp.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	s.initial = initial

	// A fixed-size capture is laid out at the requested width.
	if t.Fixed() && initial.Inner.X != t.Width {
		if err := s.vp.ResizeInner(ctx, t.Width, initial.Inner.Y); err != nil {
			return nil, err
		}
	}

	det := NewDetector(s.r, s.vp, s.opts.LoadTimeout, s.opts.PollInterval, s.opts.ProbeMargin, log)
	found, err := det.Detect(ctx, t)
	if err != nil {
		return nil, err
	}
	rect := found.Rect
	if rect.Empty() {
		return nil, &DetectionError{Marker: t.Name(), Reason: "capture rectangle is empty"}
	}

	if s.opts.MaxArea > 0 && rect.Dx()*rect.Dy() > s.opts.MaxArea {
		return nil, fmt.Errorf("%w: capture area %dx%d exceeds %d pixels", ErrConfig, rect.Dx(), rect.Dy(), s.opts.MaxArea)
	}

	// The probing resize may have made the viewport as tall as the
	// document. Keep the probed width, which drives layout, and return to
	// the initial height so tiles stay viewport sized.
	if cur := s.vp.State().Inner; !t.Fixed() && cur.Y > initial.Inner.Y {
		if err := s.vp.ResizeInner(ctx, cur.X, initial.Inner.Y); err != nil {
			return nil, err
		}
	}

	res := &Result{Rect: rect, LoadTimedOut: found.LoadTimedOut}

	if s.opts.PluginDelay > 0 {
		res.EmbeddedObject = s.embedsObjects(ctx)
		if res.EmbeddedObject {
			log.Debug("capture: embedded object found, holding", "delay", s.opts.PluginDelay)
			if err := Hold(ctx, s.r, s.opts.PluginDelay, s.opts.PollInterval); err != nil {
				return nil, err
			}
		}
	}

	res.Tile = TileSize(initial.Inner, s.opts.TileMargin, rect)
	if err := s.vp.EnsureInner(ctx, res.Tile.X, res.Tile.Y); err != nil {
		return nil, err
	}

	tiles := NewTileCapturer(s.vp, s.r, log)
	orch := NewOrchestrator(tiles, res.Tile, s.opts.Lenient, s.opts.Background, log)
	canvas, stats, err := orch.Assemble(ctx, rect)
	if err != nil {
		return nil, err
	}
	res.Image = canvas
	res.Stats = stats
	res.Elapsed = time.Since(start)

	log.Info("capture: done",
		"uri", uri, "target", t.Name(), "rect", rect, "tile", res.Tile,
		"tiles", stats.Tiles, "clamped", stats.Clamped, "timed_out", res.LoadTimedOut,
		"elapsed", res.Elapsed)
	return res, nil
}

func (s *Session) embedsObjects(ctx context.Context) bool {
	src, ok := s.r.(DocumentSource)
	if !ok {
		return false
	}
	doc, err := src.DocumentHTML(ctx)
	if err != nil {
		s.opts.Logger.Warn("capture: read document failed", "error", err)
		return false
	}
	found, err := HasEmbeddedObject(doc)
	if err != nil {
		s.opts.Logger.Warn("capture: embedded object check failed", "error", err)
		return false
	}
	return found
}
