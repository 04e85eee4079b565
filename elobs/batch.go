package elobs

import (
	"cmp"
	"fmt"
	"slices"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
)

// process turns one delivered batch into pending events. Store mutations
// requested while it runs are deferred until it returns.
func (e *Engine) process(recs []dom.Record) {
	e.processing = true
	for i := range recs {
		rec := recs[i]
		switch rec.Type {
		case dom.ChildList:
			e.processChildList(&rec)
		case dom.Attributes:
			e.processAttributes(&rec)
		}
	}
	e.processing = false
	e.flushDeferred()
}

func (e *Engine) processChildList(rec *dom.Record) {
	for _, n := range rec.Added {
		e.scanInserted(n, rec)
	}
	for _, n := range rec.Removed {
		e.scanRemoved(n, rec)
	}
	if rec.Structural() {
		e.bubbleChanged(rec)
	}
}

func (e *Engine) scanInserted(root *html.Node, rec *dom.Record) {
	for _, kind := range [...]EventKind{Created, Exists} {
		var hits []hit
		for _, en := range e.store.order[kind] {
			if !e.live(en) {
				continue
			}
			for _, n := range e.queryAll(en, root) {
				// Exists reports a node once until it leaves the tree.
				if kind == Exists && !en.mark(n) {
					continue
				}
				hits = append(hits, hit{en, n})
			}
		}
		e.emit(hits, rec)
	}
}

func (e *Engine) scanRemoved(root *html.Node, rec *dom.Record) {
	var hits []hit
	for _, en := range e.store.order[Removed] {
		if !e.live(en) {
			continue
		}
		for _, n := range e.queryAll(en, root) {
			hits = append(hits, hit{en, n})
		}
	}
	e.emit(hits, rec)
	for _, en := range e.store.order[Exists] {
		en.forgetUnder(root)
	}
}

// bubbleChanged walks from the record target towards the territory root and
// notifies, per matcher, the first node that matches.
func (e *Engine) bubbleChanged(rec *dom.Record) {
	entries := e.store.order[Changed]
	if len(entries) == 0 {
		return
	}
	top := e.territoryOf(rec.Target)
	var hits []hit
	for _, en := range entries {
		for n := rec.Target; n != nil; n = n.Parent {
			if e.matches(en, n) {
				hits = append(hits, hit{en, n})
				break
			}
			if n == top {
				break
			}
		}
	}
	e.emit(hits, rec)
}

func (e *Engine) processAttributes(rec *dom.Record) {
	n := rec.Target
	var hits []hit
	for _, en := range e.store.order[Exists] {
		if en.matched == nil {
			continue
		}
		k := weak.Make(n)
		_, was := en.matched[k]
		now := e.matches(en, n)
		switch {
		case now && !was:
			en.matched[k] = struct{}{}
			hits = append(hits, hit{en, n})
		case !now && was:
			delete(en.matched, k)
		}
	}
	e.emit(hits, rec)

	hits = hits[:0]
	for _, en := range e.store.order[Changed] {
		if e.matches(en, n) {
			hits = append(hits, hit{en, n})
		}
	}
	e.emit(hits, rec)
}

// territoryOf returns the outermost territory containing n, or nil.
func (e *Engine) territoryOf(n *html.Node) *html.Node {
	var top *html.Node
	for _, t := range e.territories {
		if dom.Contains(t, n) && (top == nil || dom.Contains(t, top)) {
			top = t
		}
	}
	return top
}

// hit is one node selected by one entry while scanning a record.
type hit struct {
	en *entry
	n  *html.Node
}

// emit queues the events of one kind for hits, ordered by registration.
func (e *Engine) emit(hits []hit, rec *dom.Record) {
	type out struct {
		r *registration
		h hit
	}
	var evs []out
	for _, h := range hits {
		for _, r := range h.en.regs {
			if r.state == stateActive {
				evs = append(evs, out{r, h})
			}
		}
	}
	slices.SortStableFunc(evs, func(a, b out) int { return cmp.Compare(a.r.seq, b.r.seq) })
	for _, o := range evs {
		en := o.h.en
		e.sched.enqueue(o.r, Event{Kind: en.kind, Node: o.h.n, Matcher: en.matcher, Disconnect: o.r.disconnect, Record: rec})
	}
}

// live reports whether en can still match. A node matcher whose node was
// collected is queued for purging.
func (e *Engine) live(en *entry) bool {
	if en.retired {
		return false
	}
	if en.collected() {
		e.mutate(func() { e.purge(en) })
		return false
	}
	return true
}

func (e *Engine) queryAll(en *entry, root *html.Node) (out []*html.Node) {
	defer func() {
		if r := recover(); r != nil {
			e.reportErr(fmt.Errorf("elobs: %s matcher %s: %w: %v", en.kind, en.matcher, ErrPanic, r))
			out = nil
		}
	}()
	return matchAll(en.matcher, en.pattern, root)
}

func (e *Engine) matches(en *entry, n *html.Node) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.reportErr(fmt.Errorf("elobs: %s matcher %s: %w: %v", en.kind, en.matcher, ErrPanic, r))
			ok = false
		}
	}()
	return matchOne(en.matcher, en.pattern, n)
}
