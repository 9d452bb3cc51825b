// CLAUDE:SUMMARY In-process callback sink handing artifacts to a Go function.
package sink

import "context"

// DeliverFunc is called for each artifact.
type DeliverFunc func(ctx context.Context, a Artifact) error

// Callback delivers artifacts via a Go function call, for embedders that
// keep the bytes in memory.
type Callback struct {
	fn DeliverFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn DeliverFunc) *Callback { return &Callback{fn: fn} }

func (c *Callback) Deliver(ctx context.Context, a Artifact) error {
	if c.fn != nil {
		return c.fn(ctx, a)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
