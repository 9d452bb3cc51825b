// CLAUDE:SUMMARY Optional final scaling: fit inside, fit outside or stretch, never enlarging, Catmull-Rom.
package encode

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ScaleMode controls how the captured image is fitted into the scaled box.
type ScaleMode int

const (
	// ScaleNone keeps the captured size.
	ScaleNone ScaleMode = iota
	// FitInside keeps the aspect ratio and fits the whole image in the box.
	FitInside
	// FitOutside keeps the aspect ratio and covers the box.
	FitOutside
	// Stretch ignores the aspect ratio.
	Stretch
)

// ParseScaleMode accepts none, inside, outside and stretch.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ScaleNone, nil
	case "inside", "fit", "fit-inside", "keep":
		return FitInside, nil
	case "outside", "fit-outside", "expand":
		return FitOutside, nil
	case "stretch", "ignore":
		return Stretch, nil
	}
	return ScaleNone, fmt.Errorf("encode: unknown scale mode %q", s)
}

func (m ScaleMode) String() string {
	switch m {
	case FitInside:
		return "inside"
	case FitOutside:
		return "outside"
	case Stretch:
		return "stretch"
	default:
		return "none"
	}
}

// ScaledSize computes the target size of src for box under mode. It returns
// src unchanged when scaling is disabled, when the box is not set on both
// axes, or when src is already smaller than the box on either axis.
func ScaledSize(src, box image.Point, mode ScaleMode) image.Point {
	if mode == ScaleNone || box.X <= 0 || box.Y <= 0 || src.X <= 0 || src.Y <= 0 {
		return src
	}
	if src.X < box.X || src.Y < box.Y {
		return src
	}
	switch mode {
	case Stretch:
		return box
	case FitInside, FitOutside:
		// Compare src.X/src.Y with box.X/box.Y without floats.
		wider := src.X*box.Y > box.X*src.Y
		if wider == (mode == FitInside) {
			return image.Pt(box.X, max(1, src.Y*box.X/src.X))
		}
		return image.Pt(max(1, src.X*box.Y/src.Y), box.Y)
	}
	return src
}

// Scale resizes img to fit box under mode. The input is returned as is when
// ScaledSize leaves its size unchanged.
func Scale(img image.Image, box image.Point, mode ScaleMode) image.Image {
	b := img.Bounds()
	size := ScaledSize(b.Size(), box, mode)
	if size == b.Size() {
		return img
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
