package elobs

import (
	"fmt"

	"golang.org/x/net/html"
)

// pendingKey is the dedup key of one tick: a registration stands for the
// (kind, matcher, handler) triple.
type pendingKey struct {
	reg  *registration
	node *html.Node
}

type pending struct {
	reg *registration
	ev  Event
}

// scheduler buffers events produced during a tick and delivers each unique
// (registration, node) pair once, in first-enqueue order.
type scheduler struct {
	e         *Engine
	order     []pendingKey
	events    map[pendingKey]pending
	scheduled bool
}

func (s *scheduler) enqueue(reg *registration, ev Event) {
	k := pendingKey{reg: reg, node: ev.Node}
	if s.events == nil {
		s.events = make(map[pendingKey]pending)
	}
	if _, ok := s.events[k]; !ok {
		s.order = append(s.order, k)
	}
	s.events[k] = pending{reg: reg, ev: ev}
	if !s.scheduled {
		s.scheduled = true
		s.e.loop.QueueMicrotask(s.flush)
	}
}

func (s *scheduler) len() int { return len(s.order) }

func (s *scheduler) flush() {
	order, events := s.order, s.events
	s.order, s.events, s.scheduled = nil, nil, false

	for _, k := range order {
		p := events[k]
		if p.reg.state != stateActive {
			continue
		}
		s.e.invoke(p.reg.handler, p.ev)
	}
}

// invoke runs one handler, converting errors and panics into reports.
func (e *Engine) invoke(h Handler, ev Event) {
	if a, ok := h.(*asyncHandler); ok {
		go func() {
			if err := call(a, ev); err != nil {
				e.reportCallback(ev, err)
			}
		}()
		return
	}
	if err := call(h, ev); err != nil {
		e.reportCallback(ev, err)
	}
}

func call(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h.HandleEvent(ev)
}

func (e *Engine) reportCallback(ev Event, err error) {
	e.reportErr(&CallbackError{Kind: ev.Kind, Matcher: ev.Matcher, Node: ev.Node, Err: err})
}

// reportErr hands err to the reporter. A panicking reporter is logged and
// otherwise ignored.
func (e *Engine) reportErr(err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("elobs: reporter panicked", "panic", r, "error", err)
		}
	}()
	e.report(err)
}
