// CLAUDE:SUMMARY Encoder: serialises the final canvas per format, optional scaling, atomic file write with EncodeError.
package encode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// DefaultJPEGQuality is used when Options.Quality is not set.
const DefaultJPEGQuality = 90

// EncodeError reports an output failure. It is distinct from capture
// failures so callers can tell "could not render" from "could not write".
type EncodeError struct {
	Op     string
	Path   string
	Format Format
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("encode: %s %s: %v", e.Op, e.Format, e.Err)
	}
	return fmt.Sprintf("encode: %s %s %s: %v", e.Op, e.Format, e.Path, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// IsEncode reports whether err is an EncodeError.
func IsEncode(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}

// Options controls Bytes.
type Options struct {
	Format Format
	// Quality is the JPEG quality, 1-100.
	Quality int
	// Box is the scaled size; zero disables scaling.
	Box  image.Point
	Mode ScaleMode
}

// Artifact is an encoded image.
type Artifact struct {
	Data   []byte
	Format Format
	// Size is the pixel size after scaling.
	Size image.Point
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	switch f {
	case PNG, "":
		return png.Encode(w, img)
	case JPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case GIF:
		return gif.Encode(w, img, nil)
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case PDF:
		return encodePDF(w, img)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// Bytes scales img per opts and encodes it in memory.
func Bytes(img image.Image, opts Options) (*Artifact, error) {
	if img == nil {
		return nil, &EncodeError{Op: "encode", Format: opts.Format, Err: errors.New("no image")}
	}
	out := Scale(img, opts.Box, opts.Mode)
	var buf bytes.Buffer
	if err := Encode(&buf, out, opts.Format, opts.Quality); err != nil {
		return nil, &EncodeError{Op: "encode", Format: opts.Format, Err: err}
	}
	f := opts.Format
	if f == "" {
		f = PNG
	}
	return &Artifact{Data: buf.Bytes(), Format: f, Size: out.Bounds().Size()}, nil
}

// WriteFile writes data to path through a temporary file in the same
// directory, renamed into place on success. A failed write leaves nothing
// at path.
func WriteFile(path string, data []byte, f Format) error {
	fail := func(op string, err error) error {
		return &EncodeError{Op: op, Path: path, Format: f, Err: err}
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fail("create", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fail("write", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fail("close", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fail("chmod", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fail("rename", err)
	}
	return nil
}

// Save encodes img per opts (format from the path when opts.Format is
// empty) and writes it atomically to path.
func Save(path string, img image.Image, opts Options) (*Artifact, error) {
	if opts.Format == "" {
		opts.Format = FormatFor(path)
	}
	art, err := Bytes(img, opts)
	if err != nil {
		if ee, ok := err.(*EncodeError); ok {
			ee.Path = path
		}
		return nil, err
	}
	if err := WriteFile(path, art.Data, art.Format); err != nil {
		return nil, err
	}
	return art, nil
}
