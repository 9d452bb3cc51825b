// CLAUDE:SUMMARY Capture request model: validation, target/encode option mapping, URL normalisation, artifact naming.
package snapshot

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
)

// ErrInvalidRequest is returned for requests that cannot be captured.
var ErrInvalidRequest = errors.New("snapshot: invalid request")

// Request describes one capture. Zero fields fall back to configuration.
type Request struct {
	// URL is the document to load. Exactly one of URL and HTML is set.
	URL string `json:"url,omitempty"`
	// HTML is an inline document, sanitised before it is rendered.
	HTML string `json:"html,omitempty"`

	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Marker string `json:"marker,omitempty"`
	Body   bool   `json:"body,omitempty"`

	// TimeoutMS bounds the wait for load completion.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	Format       string `json:"format,omitempty"`
	Quality      int    `json:"quality,omitempty"`
	ScaledWidth  int    `json:"scaled_width,omitempty"`
	ScaledHeight int    `json:"scaled_height,omitempty"`
	ScaleMode    string `json:"scale_mode,omitempty"`

	DisableJS       bool `json:"disable_js,omitempty"`
	DisablePlugins  bool `json:"disable_plugins,omitempty"`
	DisableImages   bool `json:"disable_images,omitempty"`
	DisableRedirect bool `json:"disable_redirect,omitempty"`
	KillPopups      bool `json:"kill_popups,omitempty"`
	Lenient         bool `json:"lenient,omitempty"`

	// Name is the artifact name handed to sinks. Default: derived from URL.
	Name string `json:"name,omitempty"`
}

// Target returns the capture target of r.
func (r Request) Target() capture.Target {
	return capture.Target{Width: r.Width, Height: r.Height, Marker: r.Marker, Body: r.Body}
}

// Validate checks the request shape. It does not touch the network.
func (r Request) Validate() error {
	if (r.URL == "") == (r.HTML == "") {
		return fmt.Errorf("%w: exactly one of url and html is required", ErrInvalidRequest)
	}
	if err := r.Target().Validate(); err != nil {
		return err
	}
	if r.Format != "" {
		if _, err := encode.ParseFormat(r.Format); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if r.ScaleMode != "" {
		if _, err := encode.ParseScaleMode(r.ScaleMode); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	if r.Quality < 0 || r.Quality > 100 || r.ScaledWidth < 0 || r.ScaledHeight < 0 || r.TimeoutMS < 0 {
		return fmt.Errorf("%w: negative or out of range option", ErrInvalidRequest)
	}
	return nil
}

func (r Request) timeout(def time.Duration) time.Duration {
	if r.TimeoutMS > 0 {
		return time.Duration(r.TimeoutMS) * time.Millisecond
	}
	return def
}

// encodeOptions merges r with the output defaults. The format falls back
// to the extension of the artifact name, then to the configured format.
func (r Request) encodeOptions(out OutputConfig, name string) encode.Options {
	opts := encode.Options{Quality: out.Quality}
	switch {
	case r.Format != "":
		opts.Format, _ = encode.ParseFormat(r.Format)
	case filepath.Ext(name) != "":
		opts.Format = encode.FormatFor(name)
	case out.Format != "":
		opts.Format, _ = encode.ParseFormat(out.Format)
	}
	if opts.Format == "" {
		opts.Format = encode.PNG
	}
	if r.Quality > 0 {
		opts.Quality = r.Quality
	}

	opts.Box = image.Pt(out.ScaledWidth, out.ScaledHeight)
	if r.ScaledWidth > 0 || r.ScaledHeight > 0 {
		opts.Box = image.Pt(r.ScaledWidth, r.ScaledHeight)
	}
	mode := out.ScaleMode
	if r.ScaleMode != "" {
		mode = r.ScaleMode
	}
	opts.Mode, _ = encode.ParseScaleMode(mode)
	return opts
}

// NormalizeURL turns command-line input into something a browser loads:
// existing local files become file:// URLs and bare host names get http://.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", ErrInvalidRequest)
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && (strings.Contains(raw, "://") || u.Scheme == "data" || u.Scheme == "about") {
		return raw, nil
	}
	if _, err := os.Stat(raw); err == nil {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return "", err
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	return "http://" + raw, nil
}

// dataURL wraps an HTML document in a base64 data URL.
func dataURL(doc string) string {
	return "data:text/html;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(doc))
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactName derives a file name from a document URL: host and path with
// every unsafe run replaced by '_', plus the format extension.
func ArtifactName(raw string, f encode.Format) string {
	base := "capture"
	if u, err := url.Parse(raw); err == nil {
		switch {
		case u.Scheme == "data":
			base = "inline"
		case u.Host != "":
			base = u.Host + strings.TrimSuffix(u.Path, "/")
		case u.Path != "":
			base = strings.TrimSuffix(filepath.Base(u.Path), filepath.Ext(u.Path))
		}
	}
	base = unsafeName.ReplaceAllString(base, "_")
	for strings.Contains(base, "..") {
		base = strings.ReplaceAll(base, "..", ".")
	}
	base = strings.Trim(base, "._")
	if base == "" {
		base = "capture"
	}
	if len(base) > 120 {
		base = base[:120]
	}
	return base + f.Ext()
}
