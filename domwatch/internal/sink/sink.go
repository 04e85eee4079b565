// Package sink delivers page watch output: event batches and page snapshots.
package sink

import (
	"context"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Sink receives batches and snapshots. Implementations must be safe for
// concurrent use; every page sends from its own goroutine.
type Sink interface {
	Send(ctx context.Context, batch mutation.Batch) error
	SendSnapshot(ctx context.Context, snap mutation.Snapshot) error
	Close() error
}

// envelope tags a JSON line or webhook body with its payload type.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
