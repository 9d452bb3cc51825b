// CLAUDE:SUMMARY Tile capturer: one snapshot per tile, inset crop, ROI shift for clamped scrolls.
package capture

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
)

// Tile is one captured piece of the document.
type Tile struct {
	// Image holds the tile pixels; its bounds have the size of Bounds.
	Image image.Image
	// Bounds is the document-space rectangle the pixels represent. It can
	// be smaller than the requested rectangle only after a clamped scroll,
	// when the document ends first.
	Bounds image.Rectangle
	// Clamped is true when the renderer granted a different scroll offset.
	Clamped bool
}

// TileCapturer captures document rectangles through a Viewport.
type TileCapturer struct {
	vp     *Viewport
	r      Renderer
	logger *slog.Logger
}

// NewTileCapturer returns a capturer that reads pixels from r through vp.
func NewTileCapturer(vp *Viewport, r Renderer, logger *slog.Logger) *TileCapturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TileCapturer{vp: vp, r: r, logger: logger}
}

// Capture returns the pixels for the document rectangle want.
//
// The snapshot shows document region [granted, granted+inner). When the
// scroll was clamped the wanted origin sits at want.Min-granted inside the
// snapshot, so the region of interest is shifted by that amount and the
// tile still lands at want.Min in document space.
func (c *TileCapturer) Capture(ctx context.Context, want image.Rectangle) (Tile, error) {
	granted, err := c.vp.MoveTo(ctx, want.Min.X, want.Min.Y)
	if err != nil {
		return Tile{}, err
	}

	snap, err := c.r.Snapshot(ctx)
	if err != nil {
		return Tile{}, fmt.Errorf("capture: tile %v: %w: %w", want, ErrCaptureFailed, err)
	}
	if snap == nil || snap.Bounds().Empty() {
		return Tile{}, fmt.Errorf("capture: tile %v: %w", want, ErrCaptureFailed)
	}

	sb := snap.Bounds()
	inner := c.vp.State().Inner
	if inner.X <= 0 || inner.X > sb.Dx() {
		inner.X = sb.Dx()
	}
	if inner.Y <= 0 || inner.Y > sb.Dy() {
		inner.Y = sb.Dy()
	}

	visible := image.Rectangle{Min: granted, Max: granted.Add(inner)}
	doc := want.Intersect(visible)
	tile := Tile{Bounds: doc, Clamped: granted != want.Min}
	if tile.Clamped {
		c.logger.Debug("capture: scroll clamped",
			"want", want.Min, "granted", granted, "shift", want.Min.Sub(granted))
	}
	// Only a clamped scroll, at a document edge, may shorten a tile.
	if !tile.Clamped && doc != want {
		return Tile{}, fmt.Errorf("capture: tile %v: visible area %v does not cover it: %w", want, visible, ErrCaptureFailed)
	}
	if doc.Empty() {
		tile.Bounds = image.Rectangle{Min: want.Min, Max: want.Min}
		return tile, nil
	}

	roi := doc.Sub(granted).Add(sb.Min)
	tile.Image = crop(snap, roi)
	return tile, nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop returns the pixels of img inside r, rebased at the origin.
func crop(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
