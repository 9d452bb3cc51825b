// CLAUDE:SUMMARY Capture orchestrator: row-major tile walk compositing opaque tiles into one canvas.
package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
)

// DefaultTileMargin is removed from the initial visible area when deriving
// the tile size, to absorb insets that are off by a few pixels.
const DefaultTileMargin = 10

// TileSize derives the nominal tile size from the initial inner viewport
// size, minus margin, clamped to the capture rectangle. Both components
// are at least 1.
func TileSize(inner image.Point, margin int, rect image.Rectangle) image.Point {
	t := image.Pt(inner.X-margin, inner.Y-margin)
	t.X = max(1, min(t.X, rect.Dx()))
	t.Y = max(1, min(t.Y, rect.Dy()))
	return t
}

// Stats counts what happened during a tile walk.
type Stats struct {
	Tiles   int
	Clamped int
	// Blank counts tiles left as background in lenient mode.
	Blank int
}

// Orchestrator walks a capture rectangle tile by tile and composites the
// result. Tiles are captured strictly in order because each capture moves
// the shared viewport.
type Orchestrator struct {
	tiles      *TileCapturer
	size       image.Point
	lenient    bool
	background color.Color
	logger     *slog.Logger
}

// NewOrchestrator builds an orchestrator with the nominal tile size.
// When lenient is set, a failed tile is left as background instead of
// aborting the run.
func NewOrchestrator(tiles *TileCapturer, size image.Point, lenient bool, background color.Color, logger *slog.Logger) *Orchestrator {
	if background == nil {
		background = color.White
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{tiles: tiles, size: size, lenient: lenient, background: background, logger: logger}
}

// Assemble captures rect and returns a canvas of exactly rect's size.
func (o *Orchestrator) Assemble(ctx context.Context, rect image.Rectangle) (*image.RGBA, Stats, error) {
	var st Stats
	canvas := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(o.background), image.Point{}, draw.Src)

	tw, th := max(1, o.size.X), max(1, o.size.Y)
	for y := rect.Min.Y; y < rect.Max.Y; y += th {
		for x := rect.Min.X; x < rect.Max.X; x += tw {
			want := image.Rect(x, y, min(x+tw, rect.Max.X), min(y+th, rect.Max.Y))

			tile, err := o.tiles.Capture(ctx, want)
			if err != nil {
				if o.lenient && errors.Is(err, ErrCaptureFailed) {
					o.logger.Warn("capture: tile failed, leaving background", "tile", want, "error", err)
					st.Blank++
					continue
				}
				return nil, st, err
			}
			st.Tiles++
			if tile.Clamped {
				st.Clamped++
			}
			if tile.Image == nil || tile.Bounds.Empty() {
				continue
			}

			dst := tile.Bounds.Sub(rect.Min)
			draw.Draw(canvas, dst, tile.Image, tile.Image.Bounds().Min, draw.Src)
		}
	}

	o.logger.Debug("capture: tiles assembled",
		"rect", rect, "tile", o.size, "tiles", st.Tiles, "clamped", st.Clamped, "blank", st.Blank)
	return canvas, st, nil
}
