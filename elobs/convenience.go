package elobs

import (
	"context"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/loop"
)

// IfExists calls h once, synchronously, for every node currently matching m
// in the territories. Nothing is registered.
func (e *Engine) IfExists(m Matcher, h Handler) error {
	if isNilHandler(h) {
		return ErrNilHandler
	}
	p, err := m.resolve(e.compiler)
	if err != nil {
		return err
	}
	en := &entry{kind: Exists, matcher: m, pattern: p}
	seen := make(map[*html.Node]struct{})
	for _, t := range e.territories {
		for _, n := range e.queryAll(en, t) {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			e.invoke(h, Event{Kind: Exists, Node: n, Matcher: m, Disconnect: func() {}})
		}
	}
	return nil
}

// Future is the pending result of WaitFor.
type Future struct {
	loop     *loop.Loop
	done     chan struct{}
	node     *html.Node
	settled  bool
	onSettle func()
}

// WaitFor registers a one-shot handler for kind and m. The future resolves
// with the first matching node, or with nil once timeout elapses. A zero
// timeout waits indefinitely. The registration is removed either way.
func (e *Engine) WaitFor(kind EventKind, m Matcher, timeout time.Duration) (*Future, error) {
	f := &Future{loop: e.loop, done: make(chan struct{})}
	disconnect, err := e.On(kind, m, HandlerFunc(func(ev Event) error {
		f.resolve(ev.Node)
		return nil
	}))
	if err != nil {
		return nil, err
	}
	var stop func() bool
	if timeout > 0 {
		stop = e.loop.AfterFunc(timeout, func() { f.resolve(nil) })
	}
	f.onSettle = func() {
		disconnect()
		if stop != nil {
			stop()
		}
	}
	return f, nil
}

// resolve runs on the loop.
func (f *Future) resolve(n *html.Node) {
	if f.settled {
		return
	}
	f.settled = true
	f.node = n
	close(f.done)
	if f.onSettle != nil {
		f.onSettle()
	}
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Node returns the resolved node. It is nil before resolution, after a
// timeout or after Cancel.
func (f *Future) Node() *html.Node {
	select {
	case <-f.done:
		return f.node
	default:
		return nil
	}
}

// Wait blocks until the future resolves or ctx is done. It must not be
// called from the loop goroutine.
func (f *Future) Wait(ctx context.Context) (*html.Node, error) {
	select {
	case <-f.done:
		return f.node, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel resolves the future with nil and removes its registration. It is
// safe to call from any goroutine.
func (f *Future) Cancel() {
	f.loop.Post(func() { f.resolve(nil) })
}
