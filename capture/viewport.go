// CLAUDE:SUMMARY Viewport controller: inset-compensated resizes, scrolls with clamp reporting, bounded settle.
package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// Viewport owns the renderer's visible window. It is the only writer of the
// viewport State during a Session.
type Viewport struct {
	r      Renderer
	settle time.Duration
	state  State
	logger *slog.Logger
}

// NewViewport wraps r. settle bounds the wait after every move or resize.
func NewViewport(r Renderer, settle time.Duration, logger *slog.Logger) *Viewport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewport{r: r, settle: settle, logger: logger}
}

// State returns the last observed viewport state.
func (v *Viewport) State() State { return v.state }

// Refresh re-reads the viewport state from the renderer.
func (v *Viewport) Refresh(ctx context.Context) (State, error) {
	st, err := v.r.Metrics(ctx)
	if err != nil {
		return State{}, fmt.Errorf("capture: viewport metrics: %w", err)
	}
	v.state = st
	return st, nil
}

// ResizeInner resizes the viewport so its inner area is width x height. The
// outer size sent to the renderer adds the currently observed inset. The
// inset can change with the new size (a scrollbar appears or goes away), so
// one corrective resize is issued when the first attempt falls short. An
// inner area still short of the request after that is a capture failure.
func (v *Viewport) ResizeInner(ctx context.Context, width, height int) error {
	want := image.Pt(width, height)
	for attempt := 0; attempt < 2; attempt++ {
		inset := v.state.Inset()
		outer := want.Add(inset)
		if err := v.r.Resize(ctx, outer.X, outer.Y); err != nil {
			return fmt.Errorf("capture: resize viewport to %dx%d: %w", outer.X, outer.Y, err)
		}
		if err := v.r.Pump(ctx, v.settle); err != nil {
			return err
		}
		st, err := v.Refresh(ctx)
		if err != nil {
			return err
		}
		if st.Inner.X >= width && st.Inner.Y >= height {
			return nil
		}
		v.logger.Debug("capture: inset changed after resize",
			"want", want, "inner", st.Inner, "outer", st.Outer)
	}
	return fmt.Errorf("capture: viewport inner %v short of %v after resize: %w",
		v.state.Inner, want, ErrCaptureFailed)
}

// EnsureInner grows the viewport when its inner area is smaller than the
// requested minimum on either axis. It never shrinks it.
func (v *Viewport) EnsureInner(ctx context.Context, minWidth, minHeight int) error {
	in := v.state.Inner
	if in.X >= minWidth && in.Y >= minHeight {
		return nil
	}
	return v.ResizeInner(ctx, max(in.X, minWidth), max(in.Y, minHeight))
}

// MoveTo scrolls to (x, y), lets the renderer settle and returns the offset
// it actually shows. The value returned by the renderer's scroll call is not
// trusted: a smooth scroll is still moving when the call returns.
// Clamping is not corrected here; callers compensate with the difference.
func (v *Viewport) MoveTo(ctx context.Context, x, y int) (image.Point, error) {
	if _, err := v.r.ScrollTo(ctx, x, y); err != nil {
		return image.Point{}, fmt.Errorf("capture: scroll to %d,%d: %w", x, y, err)
	}
	if err := v.r.Pump(ctx, v.settle); err != nil {
		return image.Point{}, err
	}
	st, err := v.Refresh(ctx)
	if err != nil {
		return image.Point{}, err
	}
	return st.Offset, nil
}
