// Package sink defines destinations for encoded captures.
package sink

import (
	"context"

	"github.com/hazyhaar/html2png/encode"
)

// Artifact is one encoded capture on its way out.
type Artifact struct {
	// Name is the relative file name, e.g. "example.com.png".
	Name   string
	URL    string
	JobID  string
	Format encode.Format
	Width  int
	Height int
	Data   []byte
}

// Sink is the output interface. Implementations deliver artifacts to
// different backends (file, stream, webhook, in-process callback).
type Sink interface {
	Deliver(ctx context.Context, a Artifact) error
	Close() error
}
