package snapshot

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/html2png/snapshot/internal/sink"
)

// Sink is the output interface for encoded captures.
type Sink = sink.Sink

// Artifact is one encoded capture handed to sinks.
type Artifact = sink.Artifact

// DeliverFunc receives artifacts in process.
type DeliverFunc = sink.DeliverFunc

// NewFileSink writes artifacts under dir, by artifact name.
func NewFileSink(dir string) Sink {
	return sink.NewFile(dir)
}

// NewPathSink writes every artifact to one path.
func NewPathSink(path string) Sink {
	return sink.NewPath(path)
}

// NewStreamSink writes raw artifact bytes to w.
func NewStreamSink(w io.Writer) Sink {
	return sink.NewStream(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink.
func NewCallbackSink(fn DeliverFunc) Sink {
	return sink.NewCallback(fn)
}

// SinksFromConfig builds the sinks declared in cfg.Sinks.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for i, sc := range cfg.Sinks {
		switch sc.Type {
		case "file":
			out = append(out, sink.NewFile(sc.Dir))
		case "webhook":
			out = append(out, sink.NewWebhook(sc.URL,
				sink.WithWebhookRetries(sc.Retries),
				sink.WithWebhookTimeout(sc.Timeout),
				sink.WithWebhookLogger(logger),
			))
		default:
			return nil, fmt.Errorf("snapshot: sinks[%d]: unknown type %q", i, sc.Type)
		}
	}
	return out, nil
}
