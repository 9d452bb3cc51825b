package capture_test

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/capture/capturetest"
)

func quietOpts() capture.Options {
	return capture.Options{
		LoadTimeout:  time.Second,
		Settle:       time.Microsecond,
		PollInterval: time.Microsecond,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func run(t *testing.T, doc *capturetest.Document, target capture.Target, opts capture.Options) *capture.Result {
	t.Helper()
	res, err := capture.NewSession(doc, opts).Run(context.Background(), "test://doc", target)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestRun_FixedSizeExactDimensions(t *testing.T) {
	for _, size := range []image.Point{{800, 1000}, {1, 1}, {1500, 333}, {1009, 753}} {
		doc := capturetest.New(image.Pt(3000, 5000), image.Pt(1024, 768))
		doc.Inset = image.Pt(15, 15)

		res := run(t, doc, capture.Target{Width: size.X, Height: size.Y}, quietOpts())

		if got := res.Image.Bounds().Size(); got != size {
			t.Fatalf("fixed %v: image size %v", size, got)
		}
		want := doc.Expected(image.Rectangle{Max: size})
		if n := capturetest.Diff(res.Image, want); n != 0 {
			t.Fatalf("fixed %v: %d pixels differ from the document", size, n)
		}
	}
}

func TestRun_BodyDimensionsIndependentOfTileSize(t *testing.T) {
	docSize := image.Pt(700, 900)
	for _, vp := range []image.Point{{120, 100}, {333, 250}, {1024, 768}, {1000, 1200}} {
		doc := capturetest.New(docSize, vp)
		doc.Inset = image.Pt(12, 12)

		res := run(t, doc, capture.Target{Body: true}, quietOpts())

		if got := res.Image.Bounds().Size(); got != docSize {
			t.Fatalf("viewport %v: image size %v, want %v", vp, got, docSize)
		}
		if n := capturetest.Diff(res.Image, doc.Expected(image.Rectangle{Max: docSize})); n != 0 {
			t.Fatalf("viewport %v (tile %v): %d pixels differ", vp, res.Tile, n)
		}
	}
}

func TestRun_TilingIdempotence(t *testing.T) {
	target := capture.Target{Width: 800, Height: 600}
	docSize := image.Pt(800, 600)

	one := capturetest.New(docSize, image.Pt(900, 700))
	single := run(t, one, target, quietOpts())
	if single.Tiles != 1 {
		t.Fatalf("expected a single tile, got %d (tile %v)", single.Tiles, single.Tile)
	}

	four := capturetest.New(docSize, image.Pt(500, 400))
	grid := run(t, four, target, quietOpts())
	if grid.Tiles != 4 {
		t.Fatalf("expected a 2x2 grid, got %d tiles (tile %v)", grid.Tiles, grid.Tile)
	}

	if n := capturetest.Diff(single.Image, grid.Image); n != 0 {
		t.Fatalf("1 tile vs 2x2 grid: %d pixels differ", n)
	}
}

func TestRun_ClampedEdgeTilesLandAtRequestedOffset(t *testing.T) {
	// The document is exactly as wide as the viewport after the layout
	// resize, so every scroll to the second column is clamped to x=0.
	doc := capturetest.New(image.Pt(1000, 700), image.Pt(610, 510))
	doc.Inset = image.Pt(10, 10)

	res := run(t, doc, capture.Target{Width: 1000, Height: 700}, quietOpts())

	if res.Clamped == 0 {
		t.Fatal("expected clamped scrolls")
	}
	if n := capturetest.Diff(res.Image, doc.Expected(image.Rect(0, 0, 1000, 700))); n != 0 {
		t.Fatalf("%d pixels differ after clamp correction", n)
	}
}

func TestRun_RowMajorOrder(t *testing.T) {
	doc := capturetest.New(image.Pt(2000, 2000), image.Pt(110, 110))
	opts := quietOpts()
	opts.TileMargin = -1

	res := run(t, doc, capture.Target{Width: 110 * 3, Height: 110 * 2}, opts)

	if res.Tile != image.Pt(110, 110) {
		t.Fatalf("tile = %v", res.Tile)
	}
	want := []image.Point{
		{0, 0}, {110, 0}, {220, 0},
		{0, 110}, {110, 110}, {220, 110},
	}
	got := doc.Scrolls()
	if len(got) != len(want) {
		t.Fatalf("scrolls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scroll %d = %v, want %v (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRun_MissingMarkerIsFatal(t *testing.T) {
	doc := capturetest.New(image.Pt(800, 600), image.Pt(800, 600))
	_, err := capture.NewSession(doc, quietOpts()).Run(context.Background(), "test://doc",
		capture.Target{Marker: "does-not-exist"})

	var de *capture.DetectionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DetectionError, got %v", err)
	}
	if de.Marker != "does-not-exist" {
		t.Errorf("marker = %q", de.Marker)
	}
	if doc.Snapshots() != 0 {
		t.Errorf("no tile should be captured, got %d snapshots", doc.Snapshots())
	}
}

func TestRun_ConfigErrorBeforeRendering(t *testing.T) {
	doc := capturetest.New(image.Pt(800, 600), image.Pt(800, 600))
	for _, target := range []capture.Target{
		{},
		{Width: 100},
		{Height: 100},
		{Marker: "x", Body: true},
	} {
		_, err := capture.NewSession(doc, quietOpts()).Run(context.Background(), "test://doc", target)
		if !errors.Is(err, capture.ErrConfig) {
			t.Fatalf("target %+v: expected ErrConfig, got %v", target, err)
		}
	}
	if loads := doc.Loads(); len(loads) != 0 {
		t.Fatalf("document loaded despite config error: %v", loads)
	}
}

func TestRun_LoadTimeoutIsBestEffort(t *testing.T) {
	doc := capturetest.New(image.Pt(400, 300), image.Pt(400, 300))
	doc.LoadAfter = -1
	opts := quietOpts()
	opts.LoadTimeout = 20 * time.Millisecond

	res := run(t, doc, capture.Target{Width: 400, Height: 300}, opts)

	if !res.LoadTimedOut {
		t.Fatal("expected LoadTimedOut")
	}
	if res.Image.Bounds().Size() != image.Pt(400, 300) {
		t.Fatalf("size = %v", res.Image.Bounds().Size())
	}
}

func TestRun_WaitsForLoad(t *testing.T) {
	doc := capturetest.New(image.Pt(400, 300), image.Pt(400, 300))
	doc.LoadAfter = 5

	res := run(t, doc, capture.Target{Body: true}, quietOpts())
	if res.LoadTimedOut {
		t.Fatal("load should have completed")
	}
}

func TestRun_FailedTileAborts(t *testing.T) {
	doc := capturetest.New(image.Pt(1000, 1000), image.Pt(310, 310))
	doc.FailSnapshot = 2

	_, err := capture.NewSession(doc, quietOpts()).Run(context.Background(), "test://doc",
		capture.Target{Width: 1000, Height: 1000})
	if !errors.Is(err, capture.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
	if doc.Snapshots() != 2 {
		t.Fatalf("walk continued after failure: %d snapshots", doc.Snapshots())
	}
}

func TestRun_SnapshotErrorIsCaptureFailure(t *testing.T) {
	doc := capturetest.New(image.Pt(300, 300), image.Pt(300, 300))
	doc.SnapshotErr = errors.New("target closed")

	_, err := capture.NewSession(doc, quietOpts()).Run(context.Background(), "test://doc",
		capture.Target{Width: 300, Height: 300})
	if !errors.Is(err, capture.ErrCaptureFailed) {
		t.Fatalf("expected ErrCaptureFailed, got %v", err)
	}
}

func TestRun_LenientLeavesBackground(t *testing.T) {
	doc := capturetest.New(image.Pt(1000, 1000), image.Pt(310, 310))
	doc.FailSnapshot = 2
	opts := quietOpts()
	opts.Lenient = true

	res := run(t, doc, capture.Target{Width: 600, Height: 300}, opts)

	if res.Blank != 1 {
		t.Fatalf("blank = %d, want 1", res.Blank)
	}
	// Second tile starts at x=300 and stays white.
	r, g, b, _ := res.Image.At(450, 100).RGBA()
	if r != 0xffff || g != 0xffff || b != 0xffff {
		t.Fatalf("blank tile pixel = %v,%v,%v", r, g, b)
	}
	if got, want := res.Image.RGBAAt(10, 10), capturetest.Pixel(10, 10); got != want {
		t.Fatalf("first tile pixel = %v, want %v", got, want)
	}
}

func TestRun_EmbeddedObjectDetected(t *testing.T) {
	doc := capturetest.New(image.Pt(200, 200), image.Pt(200, 200))
	doc.HTML = `<html><body><div><p>intro</p><object data="movie.swf"></object></div></body></html>`
	opts := quietOpts()
	opts.PluginDelay = 5 * time.Millisecond

	res := run(t, doc, capture.Target{Width: 200, Height: 200}, opts)
	if !res.EmbeddedObject {
		t.Fatal("expected embedded object")
	}
}

func TestRun_MarkerRect(t *testing.T) {
	doc := capturetest.New(image.Pt(2000, 2000), image.Pt(700, 500))
	doc.Elements["box"] = image.Rect(100, 150, 900, 1250)

	res := run(t, doc, capture.Target{Marker: "box"}, quietOpts())

	if res.Rect != image.Rect(100, 150, 900, 1250) {
		t.Fatalf("rect = %v", res.Rect)
	}
	if n := capturetest.Diff(res.Image, doc.Expected(res.Rect)); n != 0 {
		t.Fatalf("%d pixels differ", n)
	}
}

func TestRun_MaxArea(t *testing.T) {
	doc := capturetest.New(image.Pt(5000, 5000), image.Pt(800, 600))
	opts := quietOpts()
	opts.MaxArea = 1000 * 1000

	_, err := capture.NewSession(doc, opts).Run(context.Background(), "test://doc", capture.Target{Body: true})
	if !errors.Is(err, capture.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if doc.Snapshots() != 0 {
		t.Fatalf("tiles captured past the area limit: %d", doc.Snapshots())
	}
}
