package domwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vitrine/domwatch/internal/config"
	"github.com/hazyhaar/vitrine/domwatch/internal/sink"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Sink receives batches and snapshots.
type Sink = sink.Sink

// NewStdoutSink writes JSON lines to w.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink POSTs JSON to url, retrying server errors.
func NewWebhookSink(url string, retries int, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithRetries(retries), sink.WithWebhookLogger(logger))
}

// NewCallbackSink hands batches and snapshots to Go functions without
// serialising them. Either function may be nil.
func NewCallbackSink(
	onBatch func(ctx context.Context, b mutation.Batch) error,
	onSnapshot func(ctx context.Context, snap mutation.Snapshot) error,
) Sink {
	return &sink.Callback{OnBatch: onBatch, OnSnapshot: onSnapshot}
}

// NewMemorySink keeps everything it receives.
func NewMemorySink() *sink.Memory {
	return sink.NewMemory()
}

// OpenSQLiteSink stores batches in the SQLite file at path.
func OpenSQLiteSink(path string) (*sink.SQLite, error) {
	return sink.OpenSQLite(path)
}

func buildSinks(cfgs []config.SinkConfig, logger *slog.Logger) ([]Sink, error) {
	var out []Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			out = append(out, NewWebhookSink(c.URL, c.Retries, logger))
		case "sqlite":
			s, err := OpenSQLiteSink(c.Path)
			if err != nil {
				for _, o := range out {
					o.Close()
				}
				return nil, fmt.Errorf("domwatch: %w", err)
			}
			out = append(out, s)
		default:
			return nil, fmt.Errorf("domwatch: unknown sink type %q", c.Type)
		}
	}
	return out, nil
}
