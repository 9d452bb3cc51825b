// CLAUDE:SUMMARY Error taxonomy for capture runs: configuration, detection, tile capture.
package capture

import (
	"errors"
	"fmt"
)

// ErrConfig is returned when a Target cannot describe a capture rectangle
// or the rectangle exceeds a configured limit. It is reported before any
// tile is captured.
var ErrConfig = errors.New("capture: invalid configuration")

// ErrCaptureFailed is returned when the renderer produced no usable pixels
// for a tile. The tile walk is aborted and no image is returned.
var ErrCaptureFailed = errors.New("capture: renderer returned no pixels")

// DetectionError is returned when the capture rectangle cannot be resolved
// from the document, typically because the marker element is missing.
type DetectionError struct {
	Marker string
	Reason string
}

func (e *DetectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("capture: can't find an element with the id %q in the current page", e.Marker)
	}
	return fmt.Sprintf("capture: detection of %q failed: %s", e.Marker, e.Reason)
}

// IsDetection reports whether err is a DetectionError.
func IsDetection(err error) bool {
	var de *DetectionError
	return errors.As(err, &de)
}
