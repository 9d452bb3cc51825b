// CLAUDE:SUMMARY Output formats: extension mapping (case-insensitive, PNG fallback), strict name parsing, MIME types.
package encode

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an output image format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	GIF  Format = "gif"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
	PDF  Format = "pdf"
)

// ErrUnsupportedFormat is returned by ParseFormat for unknown names.
var ErrUnsupportedFormat = errors.New("encode: unsupported format")

var byExt = map[string]Format{
	"png":  PNG,
	"jpg":  JPEG,
	"jpe":  JPEG,
	"jpeg": JPEG,
	"gif":  GIF,
	"bmp":  BMP,
	"tif":  TIFF,
	"tiff": TIFF,
	"pdf":  PDF,
}

// Formats lists every supported format, PNG first.
func Formats() []Format {
	return []Format{PNG, JPEG, GIF, BMP, TIFF, PDF}
}

// FormatFor picks the format from the extension of path. Unknown or
// missing extensions select PNG.
func FormatFor(path string) Format {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if f, ok := byExt[ext]; ok {
		return f
	}
	return PNG
}

// ParseFormat resolves a format name or extension, with or without the
// leading dot.
func ParseFormat(name string) (Format, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "."))
	if f, ok := byExt[key]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case GIF:
		return "image/gif"
	case BMP:
		return "image/bmp"
	case TIFF:
		return "image/tiff"
	case PDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}

// Ext returns the canonical file extension of f, with the dot.
func (f Format) Ext() string {
	switch f {
	case JPEG:
		return ".jpg"
	case "":
		return ".png"
	default:
		return "." + string(f)
	}
}

func (f Format) String() string { return string(f) }
