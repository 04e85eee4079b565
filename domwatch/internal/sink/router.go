package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

// Router fans out to several sinks. Every sink is tried; failures are
// logged and joined into the returned error.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. Not safe to call once pages are sending.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, b mutation.Batch) error {
	return r.each("batch", func(s Sink) error { return s.Send(ctx, b) })
}

func (r *Router) SendSnapshot(ctx context.Context, snap mutation.Snapshot) error {
	return r.each("snapshot", func(s Sink) error { return s.SendSnapshot(ctx, snap) })
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (r *Router) each(what string, fn func(Sink) error) error {
	var errs []error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: delivery failed", "type", what, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
