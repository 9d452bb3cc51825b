// Package capturetest provides a deterministic in-memory capture.Renderer
// for tests. Every document pixel has a colour derived from its document
// coordinates, so any stitching mistake shows up as a pixel mismatch.
package capturetest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/hazyhaar/html2png/capture"
)

// ChromeColor fills the inset area of snapshots (the fake scrollbars).
var ChromeColor = color.RGBA{0x80, 0x80, 0x80, 0xff}

// Pixel returns the colour of document pixel (x, y).
func Pixel(x, y int) color.RGBA {
	h := uint32(x)*73856093 ^ uint32(y)*19349663
	return color.RGBA{R: uint8(h), G: uint8(h >> 8), B: uint8(h >> 16), A: 0xff}
}

// Document is a fake renderer showing a document of a fixed Size through
// a resizable viewport. Scrolls are clamped at the document edges the way
// a browser clamps them.
type Document struct {
	// Size is the document extent from the origin.
	Size image.Point
	// Inset is subtracted from the outer viewport to get the inner area.
	Inset image.Point
	// Elements maps element ids to document rectangles.
	Elements map[string]image.Rectangle
	// ClipElements cuts element rectangles at the current viewport, like a
	// layout that has not been resolved beyond what is on screen.
	ClipElements bool
	// LoadAfter is the number of pumps before Loaded reports true. A
	// negative value never completes.
	LoadAfter int
	// FailSnapshot makes the n-th snapshot (1-based) return nil.
	FailSnapshot int
	// SnapshotErr is returned by every snapshot when set.
	SnapshotErr error
	// HTML is returned by DocumentHTML.
	HTML string
	// Background fills viewport pixels beyond the document. Default white.
	Background color.Color

	mu       sync.Mutex
	outer    image.Point
	offset   image.Point
	pumps    int
	snaps    int
	loaded   []string
	scrolls  []image.Point
	resizes  []image.Point
	loadDone bool
}

// New returns a document of size shown through an outer viewport.
func New(size, viewport image.Point) *Document {
	return &Document{Size: size, outer: viewport, Elements: map[string]image.Rectangle{}}
}

func (d *Document) inner() image.Point {
	in := d.outer.Sub(d.Inset)
	return image.Pt(max(in.X, 0), max(in.Y, 0))
}

func (d *Document) Load(_ context.Context, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = append(d.loaded, uri)
	d.pumps = 0
	d.offset = image.Point{}
	d.loadDone = d.LoadAfter == 0
	return nil
}

func (d *Document) Loaded(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadDone, nil
}

func (d *Document) Pump(ctx context.Context, max time.Duration) error {
	d.mu.Lock()
	d.pumps++
	if d.LoadAfter > 0 && d.pumps >= d.LoadAfter {
		d.loadDone = true
	}
	d.mu.Unlock()
	if max > 200*time.Microsecond {
		max = 200 * time.Microsecond
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(max):
		return nil
	}
}

func (d *Document) ElementRect(_ context.Context, id string) (image.Rectangle, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.Elements[id]
	if !ok {
		return image.Rectangle{}, false, nil
	}
	if d.ClipElements {
		r = r.Intersect(image.Rectangle{Max: d.outer})
	}
	return r, true, nil
}

func (d *Document) BodyRect(context.Context) (image.Rectangle, error) {
	return image.Rectangle{Max: d.Size}, nil
}

func (d *Document) Metrics(context.Context) (capture.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return capture.State{Offset: d.offset, Inner: d.inner(), Outer: d.outer}, nil
}

func (d *Document) Resize(_ context.Context, width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.New("capturetest: non-positive viewport")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outer = image.Pt(width, height)
	d.resizes = append(d.resizes, d.outer)
	d.offset = d.clamp(d.offset)
	return nil
}

func (d *Document) clamp(p image.Point) image.Point {
	in := d.inner()
	maxX := max(0, d.Size.X-in.X)
	maxY := max(0, d.Size.Y-in.Y)
	return image.Pt(min(max(p.X, 0), maxX), min(max(p.Y, 0), maxY))
}

func (d *Document) ScrollTo(_ context.Context, x, y int) (image.Point, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scrolls = append(d.scrolls, image.Pt(x, y))
	d.offset = d.clamp(image.Pt(x, y))
	return d.offset, nil
}

func (d *Document) Snapshot(context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snaps++
	if d.SnapshotErr != nil {
		return nil, d.SnapshotErr
	}
	if d.FailSnapshot > 0 && d.snaps == d.FailSnapshot {
		return nil, nil
	}
	if d.outer.X <= 0 || d.outer.Y <= 0 {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	bg := d.Background
	if bg == nil {
		bg = color.White
	}
	img := image.NewRGBA(image.Rectangle{Max: d.outer})
	in := d.inner()
	for y := 0; y < d.outer.Y; y++ {
		for x := 0; x < d.outer.X; x++ {
			if x >= in.X || y >= in.Y {
				img.Set(x, y, ChromeColor)
				continue
			}
			dx, dy := d.offset.X+x, d.offset.Y+y
			if dx < d.Size.X && dy < d.Size.Y {
				img.SetRGBA(x, y, Pixel(dx, dy))
			} else {
				img.Set(x, y, bg)
			}
		}
	}
	return img, nil
}

func (d *Document) DocumentHTML(context.Context) (string, error) {
	return d.HTML, nil
}

// Scrolls returns the scroll requests received, in order.
func (d *Document) Scrolls() []image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Point(nil), d.scrolls...)
}

// Resizes returns the outer sizes requested, in order.
func (d *Document) Resizes() []image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]image.Point(nil), d.resizes...)
}

// Loads returns the URIs loaded, in order.
func (d *Document) Loads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.loaded...)
}

// Snapshots returns how many snapshots were taken.
func (d *Document) Snapshots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snaps
}

// Expected renders rect of the document directly, with background beyond
// the document edges. A correct capture of rect equals this image.
func (d *Document) Expected(rect image.Rectangle) *image.RGBA {
	bg := d.Background
	if bg == nil {
		bg = color.White
	}
	img := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if x >= 0 && y >= 0 && x < d.Size.X && y < d.Size.Y {
				img.SetRGBA(x-rect.Min.X, y-rect.Min.Y, Pixel(x, y))
			} else {
				img.Set(x-rect.Min.X, y-rect.Min.Y, bg)
			}
		}
	}
	return img
}

// Diff returns the number of pixels that differ between a and b, or -1 when
// their sizes differ.
func Diff(a, b image.Image) int {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return -1
	}
	n := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				n++
			}
		}
	}
	return n
}

var _ capture.Renderer = (*Document)(nil)
var _ capture.DocumentSource = (*Document)(nil)
