// CLAUDE:SUMMARY File sink: writes artifacts under a base directory through traversal-safe paths and atomic renames.
package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot/internal/guard"
)

// File writes each artifact to Dir/Name. Partial files are never visible.
type File struct {
	dir string
}

// NewFile creates a File sink rooted at dir.
func NewFile(dir string) *File { return &File{dir: dir} }

func (f *File) Deliver(_ context.Context, a Artifact) error {
	path, err := guard.SafePath(f.dir, a.Name)
	if err != nil {
		return fmt.Errorf("file sink: %s: %w", a.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &encode.EncodeError{Op: "mkdir", Path: path, Format: a.Format, Err: err}
	}
	return encode.WriteFile(path, a.Data, a.Format)
}

func (f *File) Close() error { return nil }

// Path writes every artifact to one fixed path, whatever its name. It is
// the CLI's "outfile" destination.
type Path struct {
	path string
}

// NewPath creates a sink writing to path.
func NewPath(path string) *Path { return &Path{path: path} }

func (p *Path) Deliver(_ context.Context, a Artifact) error {
	return encode.WriteFile(p.path, a.Data, a.Format)
}

func (p *Path) Close() error { return nil }
