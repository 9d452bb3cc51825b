// CLAUDE:SUMMARY Bounds detector: fixed size or marker/body geometry with a two-pass probing resize.
package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"
)

// DefaultProbeMargin is added to the first marker reading before the
// probing resize, on both axes.
const DefaultProbeMargin = 200

// Target describes what to capture: a fixed size, a marker element, or the
// document body.
type Target struct {
	Width  int
	Height int
	// Marker is the id (or name) of the element whose bounding box is the
	// capture rectangle.
	Marker string
	// Body captures the full extent of the document body.
	Body bool
}

// Fixed reports whether the capture rectangle is known without the document.
func (t Target) Fixed() bool { return t.Marker == "" && !t.Body }

// Name identifies the marker in diagnostics.
func (t Target) Name() string {
	switch {
	case t.Body:
		return "body"
	case t.Marker != "":
		return t.Marker
	default:
		return fmt.Sprintf("%dx%d", t.Width, t.Height)
	}
}

// Validate checks that the target can produce a rectangle.
func (t Target) Validate() error {
	if t.Marker != "" && t.Body {
		return fmt.Errorf("%w: marker %q and body detection are exclusive", ErrConfig, t.Marker)
	}
	if !t.Fixed() {
		return nil
	}
	if t.Width <= 0 {
		return fmt.Errorf("%w: you need to set the capture width if you don't use a detection marker", ErrConfig)
	}
	if t.Height <= 0 {
		return fmt.Errorf("%w: you need to set the capture height if you don't use a detection marker", ErrConfig)
	}
	return nil
}

// Detector resolves a Target into a final capture rectangle.
type Detector struct {
	r           Renderer
	vp          *Viewport
	loadTimeout time.Duration
	poll        time.Duration
	margin      int
	logger      *slog.Logger
}

// Detection is the outcome of Detect.
type Detection struct {
	Rect image.Rectangle
	// LoadTimedOut is set when load completion was never signalled and the
	// rectangle was resolved from the partially loaded document.
	LoadTimedOut bool
}

// NewDetector builds a Detector. margin <= 0 selects DefaultProbeMargin.
func NewDetector(r Renderer, vp *Viewport, loadTimeout, poll time.Duration, margin int, logger *slog.Logger) *Detector {
	if margin <= 0 {
		margin = DefaultProbeMargin
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{r: r, vp: vp, loadTimeout: loadTimeout, poll: poll, margin: margin, logger: logger}
}

// WaitLoaded pumps the renderer until it reports load completion or the
// load timeout elapses. It returns true on timeout.
func (d *Detector) WaitLoaded(ctx context.Context) (timedOut bool, err error) {
	ok, err := Until(ctx, d.r, d.loadTimeout, d.poll, d.r.Loaded)
	if err != nil {
		return false, fmt.Errorf("capture: wait load: %w", err)
	}
	if !ok {
		d.logger.Warn("capture: load did not complete, continuing with partial document",
			"timeout", d.loadTimeout)
	}
	return !ok, nil
}

// Detect waits for the document and resolves t.
func (d *Detector) Detect(ctx context.Context, t Target) (Detection, error) {
	if err := t.Validate(); err != nil {
		return Detection{}, err
	}
	timedOut, err := d.WaitLoaded(ctx)
	if err != nil {
		return Detection{}, err
	}
	det := Detection{LoadTimedOut: timedOut}

	if t.Fixed() {
		det.Rect = image.Rect(0, 0, t.Width, t.Height)
		return det, nil
	}

	first, err := d.read(ctx, t)
	if err != nil {
		return Detection{}, err
	}

	// The first reading may be cut by the still default-sized viewport.
	// Make room around it, let the renderer reflow and read again.
	if err := d.vp.EnsureInner(ctx, first.Max.X+d.margin, first.Max.Y+d.margin); err != nil {
		return Detection{}, err
	}
	final, err := d.read(ctx, t)
	if err != nil {
		return Detection{}, err
	}
	if final.Empty() {
		return Detection{}, &DetectionError{Marker: t.Name(), Reason: "element has no extent"}
	}

	d.logger.Debug("capture: bounds detected", "marker", t.Name(), "first", first, "final", final)
	det.Rect = final
	return det, nil
}

func (d *Detector) read(ctx context.Context, t Target) (image.Rectangle, error) {
	if t.Body {
		r, err := d.r.BodyRect(ctx)
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("capture: body rect: %w", err)
		}
		return Normalize(r), nil
	}
	r, ok, err := d.r.ElementRect(ctx, t.Marker)
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("capture: element rect %q: %w", t.Marker, err)
	}
	if !ok {
		return image.Rectangle{}, &DetectionError{Marker: t.Marker}
	}
	return Normalize(r), nil
}

// Normalize turns a zero-area reading into the rectangle from the document
// origin to its corner, so an empty element acts as a bottom-right anchor.
func Normalize(r image.Rectangle) image.Rectangle {
	r = r.Canon()
	if r.Empty() {
		return image.Rect(0, 0, max(r.Max.X, 0), max(r.Max.Y, 0))
	}
	return r
}
