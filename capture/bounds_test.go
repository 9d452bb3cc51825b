package capture_test

import (
	"context"
	"errors"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/capture/capturetest"
)

func newDetector(doc *capturetest.Document, vp *capture.Viewport) *capture.Detector {
	return capture.NewDetector(doc, vp, time.Second, time.Microsecond, 0, discard)
}

func TestDetect_TwoPassMeasure(t *testing.T) {
	doc := capturetest.New(image.Pt(3000, 3000), image.Pt(900, 800))
	doc.ClipElements = true
	doc.Elements["content"] = image.Rect(0, 0, 1000, 900)
	vp := newViewport(t, doc)

	det, err := newDetector(doc, vp).Detect(context.Background(), capture.Target{Marker: "content"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	resizes := doc.Resizes()
	if len(resizes) != 1 || resizes[0] != image.Pt(1100, 1000) {
		t.Fatalf("resizes = %v, want [(1100,1000)]", resizes)
	}
	if det.Rect != image.Rect(0, 0, 1000, 900) {
		t.Fatalf("rect = %v, want the second reading", det.Rect)
	}
}

func TestDetect_FixedSkipsDocument(t *testing.T) {
	doc := capturetest.New(image.Pt(10, 10), image.Pt(100, 100))
	vp := newViewport(t, doc)

	det, err := newDetector(doc, vp).Detect(context.Background(), capture.Target{Width: 640, Height: 480})
	if err != nil {
		t.Fatal(err)
	}
	if det.Rect != image.Rect(0, 0, 640, 480) {
		t.Fatalf("rect = %v", det.Rect)
	}
	if len(doc.Resizes()) != 0 {
		t.Fatal("fixed target must not measure the document")
	}
}

func TestDetect_MissingMarker(t *testing.T) {
	doc := capturetest.New(image.Pt(100, 100), image.Pt(100, 100))
	vp := newViewport(t, doc)

	_, err := newDetector(doc, vp).Detect(context.Background(), capture.Target{Marker: "nope"})
	if !capture.IsDetection(err) {
		t.Fatalf("expected detection error, got %v", err)
	}
	if !strings.Contains(err.Error(), `"nope"`) {
		t.Fatalf("error does not name the marker: %v", err)
	}
}

func TestDetect_EmptyElementAnchorsFromOrigin(t *testing.T) {
	doc := capturetest.New(image.Pt(2000, 2000), image.Pt(1000, 1000))
	doc.Elements["end"] = image.Rect(640, 480, 640, 480)
	vp := newViewport(t, doc)

	det, err := newDetector(doc, vp).Detect(context.Background(), capture.Target{Marker: "end"})
	if err != nil {
		t.Fatal(err)
	}
	if det.Rect != image.Rect(0, 0, 640, 480) {
		t.Fatalf("rect = %v", det.Rect)
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want image.Rectangle
	}{
		{image.Rect(640, 480, 640, 480), image.Rect(0, 0, 640, 480)},
		{image.Rect(10, 20, 110, 220), image.Rect(10, 20, 110, 220)},
		{image.Rect(110, 220, 10, 20), image.Rect(10, 20, 110, 220)},
		{image.Rect(-5, -5, -5, -5), image.Rectangle{}},
	}
	for _, c := range cases {
		if got := capture.Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestTarget_Validate(t *testing.T) {
	ok := []capture.Target{
		{Width: 1, Height: 1},
		{Marker: "x"},
		{Body: true},
		{Marker: "x", Width: 100},
	}
	for _, tg := range ok {
		if err := tg.Validate(); err != nil {
			t.Errorf("%+v: %v", tg, err)
		}
	}
	bad := []capture.Target{{}, {Width: 10}, {Height: 10}, {Width: -1, Height: 5}, {Marker: "m", Body: true}}
	for _, tg := range bad {
		if err := tg.Validate(); !errors.Is(err, capture.ErrConfig) {
			t.Errorf("%+v: expected ErrConfig, got %v", tg, err)
		}
	}
}
