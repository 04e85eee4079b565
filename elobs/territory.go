package elobs

import (
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
)

var watchOptions = dom.Options{ChildList: true, Attributes: true, Subtree: true}

// AddTerritory extends observation to the subtree rooted at n. It does not
// fire events for nodes already under n; register an Exists handler for that.
func (e *Engine) AddTerritory(n *html.Node) error {
	if n == nil {
		return ErrNilTerritory
	}
	e.mutate(func() {
		if slices.Contains(e.territories, n) {
			return
		}
		e.territories = append(e.territories, n)
		if e.observer != nil {
			if err := e.observer.Observe(n, watchOptions); err != nil {
				e.logger.Error("elobs: observe territory", "error", err)
			}
		}
	})
	return nil
}

// RemoveTerritory stops observing the subtree rooted at n. Records already
// queued for the remaining territories are still processed.
func (e *Engine) RemoveTerritory(n *html.Node) {
	e.mutate(func() {
		i := slices.Index(e.territories, n)
		if i < 0 {
			return
		}
		e.territories = slices.Delete(e.territories, i, i+1)
		if e.observer == nil {
			return
		}
		recs := e.observer.TakeRecords()
		e.stopWatch()
		e.startWatch()
		recs = slices.DeleteFunc(recs, func(r dom.Record) bool { return e.territoryOf(r.Target) == nil })
		if len(recs) > 0 {
			e.loop.Post(func() { e.process(recs) })
		}
	})
}

// Territories returns the roots currently observed.
func (e *Engine) Territories() []*html.Node {
	return slices.Clone(e.territories)
}

// Watching reports whether the underlying observation is active.
func (e *Engine) Watching() bool { return e.observer != nil }

func (e *Engine) startWatch() {
	if e.observer != nil {
		return
	}
	e.observer = e.doc.NewObserver(e.process)
	for _, t := range e.territories {
		if err := e.observer.Observe(t, watchOptions); err != nil {
			e.logger.Error("elobs: observe territory", "error", err)
		}
	}
	e.logger.Debug("elobs: watch started", "territories", len(e.territories))
}

func (e *Engine) stopWatch() {
	if e.observer == nil {
		return
	}
	e.observer.Disconnect()
	e.observer = nil
	e.logger.Debug("elobs: watch stopped")
}
