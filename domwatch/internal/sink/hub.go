package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Hub fans batches out to live subscribers, such as websocket clients.
// A subscriber that falls behind loses batches rather than slowing the
// watcher. Snapshots are not forwarded.
type Hub struct {
	logger *slog.Logger
	buf    int

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	pageID string
	ch     chan mutation.Batch
}

// NewHub creates a hub whose subscribers buffer buf batches each.
func NewHub(buf int, logger *slog.Logger) *Hub {
	if buf <= 0 {
		buf = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, buf: buf, subs: make(map[*subscription]struct{})}
}

// Subscribe returns a channel of the batches of pageID, or of every page
// when pageID is empty. cancel closes the channel; it is idempotent.
func (h *Hub) Subscribe(pageID string) (<-chan mutation.Batch, func()) {
	s := &subscription{pageID: pageID, ch: make(chan mutation.Batch, h.buf)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	return s.ch, func() { h.drop(s) }
}

func (h *Hub) drop(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Send(_ context.Context, b mutation.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.pageID != "" && s.pageID != b.PageID {
			continue
		}
		select {
		case s.ch <- b:
		default:
			h.logger.Warn("sink: hub subscriber behind, batch dropped", "page", b.PageID, "seq", b.Seq)
		}
	}
	return nil
}

func (h *Hub) SendSnapshot(context.Context, mutation.Snapshot) error { return nil }

// Close ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
	return nil
}
