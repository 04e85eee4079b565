package sink

import (
	"context"
	"sync"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Callback hands batches and snapshots to Go functions in the same process.
// Either function may be nil.
type Callback struct {
	OnBatch    func(context.Context, mutation.Batch) error
	OnSnapshot func(context.Context, mutation.Snapshot) error
}

func (c *Callback) Send(ctx context.Context, b mutation.Batch) error {
	if c.OnBatch == nil {
		return nil
	}
	return c.OnBatch(ctx, b)
}

func (c *Callback) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	if c.OnSnapshot == nil {
		return nil
	}
	return c.OnSnapshot(ctx, snap)
}

func (c *Callback) Close() error { return nil }

// Memory keeps everything it receives. Used by tests and embedders
// that poll.
type Memory struct {
	mu        sync.Mutex
	batches   []mutation.Batch
	snapshots []mutation.Snapshot
	notify    chan struct{}
}

func NewMemory() *Memory {
	return &Memory{notify: make(chan struct{}, 1)}
}

func (m *Memory) Send(_ context.Context, b mutation.Batch) error {
	m.mu.Lock()
	m.batches = append(m.batches, b)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) SendSnapshot(_ context.Context, snap mutation.Snapshot) error {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, snap)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Memory) Close() error { return nil }

// Batches returns a copy of the received batches.
func (m *Memory) Batches() []mutation.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mutation.Batch(nil), m.batches...)
}

// Snapshots returns a copy of the received snapshots.
func (m *Memory) Snapshots() []mutation.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mutation.Snapshot(nil), m.snapshots...)
}

// Received is signalled, without blocking, after each delivery.
func (m *Memory) Received() <-chan struct{} { return m.notify }

func (m *Memory) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
