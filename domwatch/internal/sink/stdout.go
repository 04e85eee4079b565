package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Stdout writes one JSON envelope per line.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout writes to w, or to os.Stdout when w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Send(_ context.Context, b mutation.Batch) error {
	return s.write("batch", b)
}

func (s *Stdout) SendSnapshot(_ context.Context, snap mutation.Snapshot) error {
	return s.write("snapshot", snap)
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: typ, Data: v})
}
