package capture

import (
	"context"
	"image"
	"time"
)

// State is the viewport geometry as granted by the renderer.
type State struct {
	// Offset is the current scroll position in document coordinates.
	Offset image.Point
	// Inner is the renderable area: Outer minus scrollbars and borders.
	Inner image.Point
	// Outer is the size of the viewport widget itself.
	Outer image.Point
}

// Inset returns the pixels lost to chrome (scrollbars, borders) on each axis.
func (s State) Inset() image.Point {
	in := s.Outer.Sub(s.Inner)
	if in.X < 0 {
		in.X = 0
	}
	if in.Y < 0 {
		in.Y = 0
	}
	return in
}

// Pumper lets the renderer make progress on pending asynchronous work.
type Pumper interface {
	// Pump processes renderer work for at most max.
	Pump(ctx context.Context, max time.Duration) error
}

// Renderer is the document renderer collaborator. Implementations wrap a
// real browser tab; capturetest.Document is a deterministic in-memory one.
//
// A Renderer is driven by exactly one Session at a time.
type Renderer interface {
	Pumper

	// Load starts loading uri. It does not wait for completion.
	Load(ctx context.Context, uri string) error

	// Loaded reports whether the last Load has completed.
	Loaded(ctx context.Context) (bool, error)

	// ElementRect returns the document-space bounding box of the element
	// identified by id. ok is false when no such element exists.
	ElementRect(ctx context.Context, id string) (r image.Rectangle, ok bool, err error)

	// BodyRect returns the document-space extent of the whole document body.
	BodyRect(ctx context.Context) (image.Rectangle, error)

	// Metrics reports the current viewport state.
	Metrics(ctx context.Context) (State, error)

	// Resize sets the outer viewport size.
	Resize(ctx context.Context, width, height int) error

	// ScrollTo requests a scroll to (x, y) and returns the offset actually
	// granted, which may be clamped at document edges.
	ScrollTo(ctx context.Context, x, y int) (image.Point, error)

	// Snapshot returns the pixels of the current outer viewport. A nil or
	// empty image means the renderer could not produce one.
	Snapshot(ctx context.Context) (image.Image, error)
}

// DocumentSource is implemented by renderers that can serialise the loaded
// document. It is used to look for embedded objects before tiling.
type DocumentSource interface {
	DocumentHTML(ctx context.Context) (string, error)
}
