package elobs

import (
	"reflect"
	"runtime"
	"slices"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/selector"
)

type regState int

const (
	statePending regState = iota
	stateActive
	stateDisconnected
)

// registration is one (kind, matcher, handler) triple.
type registration struct {
	kind    EventKind
	matcher Matcher
	pattern selector.Pattern
	handler Handler
	state   regState
	seq     uint64
	entry   *entry

	// alias points at the live registration this one duplicated.
	alias      *registration
	disconnect Disconnector
}

// entry groups the registrations of one (kind, matcher) pair.
type entry struct {
	kind    EventKind
	matcher Matcher
	pattern selector.Pattern
	regs    []*registration
	retired bool

	// matched is the match state table of Exists entries: the nodes
	// reported since they last entered the tree.
	matched map[weak.Pointer[html.Node]]struct{}

	cleanup    runtime.Cleanup
	hasCleanup bool
}

func (en *entry) collected() bool {
	return !en.matcher.IsSelector() && en.matcher.ref.Value() == nil
}

// store maps each event kind to its entries, in registration order.
type store struct {
	index [numKinds]map[matcherKey]*entry
	order [numKinds][]*entry
	size  int
}

func (s *store) lookup(kind EventKind, k matcherKey) *entry {
	if s.index[kind] == nil {
		return nil
	}
	return s.index[kind][k]
}

func (s *store) insert(en *entry) {
	if s.index[en.kind] == nil {
		s.index[en.kind] = make(map[matcherKey]*entry)
	}
	s.index[en.kind][en.matcher.key()] = en
	s.order[en.kind] = append(s.order[en.kind], en)
}

func (s *store) delete(en *entry) {
	delete(s.index[en.kind], en.matcher.key())
	s.order[en.kind] = slices.DeleteFunc(s.order[en.kind], func(x *entry) bool { return x == en })
}

// mutate applies op now, or queues it when a batch is being processed.
func (e *Engine) mutate(op func()) {
	if e.processing {
		e.deferred = append(e.deferred, op)
		return
	}
	op()
}

// flushDeferred replays queued store operations in order.
func (e *Engine) flushDeferred() {
	for len(e.deferred) > 0 {
		op := e.deferred[0]
		e.deferred[0] = nil
		e.deferred = e.deferred[1:]
		op()
	}
	e.deferred = nil
}

func (e *Engine) register(kind EventKind, m Matcher, h Handler) (Disconnector, error) {
	if !kind.valid() {
		return nil, ErrInvalidKind
	}
	if isNilHandler(h) {
		return nil, ErrNilHandler
	}
	if kind == Changed && !m.IsSelector() {
		return nil, ErrUnsupportedMatcher
	}
	p, err := m.resolve(e.compiler)
	if err != nil {
		return nil, err
	}

	reg := &registration{kind: kind, matcher: m, pattern: p, handler: h}
	reg.disconnect = func() { e.disconnect(reg) }
	e.mutate(func() { e.attach(reg) })
	return reg.disconnect, nil
}

func (e *Engine) attach(reg *registration) {
	if reg.state != statePending {
		return
	}
	en := e.store.lookup(reg.kind, reg.matcher.key())
	if en != nil && en.collected() {
		e.purge(en)
		en = nil
	}
	if en == nil {
		en = e.newEntry(reg)
		if en == nil {
			reg.state = stateDisconnected
			return
		}
	}
	for _, r := range en.regs {
		if sameHandler(r.handler, reg.handler) {
			reg.alias = r
			reg.state = stateActive
			return
		}
	}

	e.regSeq++
	reg.seq = e.regSeq
	reg.entry = en
	reg.state = stateActive
	en.regs = append(en.regs, reg)
	e.store.size++
	e.startWatch()

	if reg.kind == Exists {
		e.initialScan(reg)
	}
}

func (e *Engine) newEntry(reg *registration) *entry {
	en := &entry{kind: reg.kind, matcher: reg.matcher, pattern: reg.pattern}
	if reg.kind == Exists {
		en.matched = make(map[weak.Pointer[html.Node]]struct{})
	}
	if !reg.matcher.IsSelector() {
		n := reg.matcher.ref.Value()
		if n == nil {
			return nil
		}
		en.cleanup = runtime.AddCleanup(n, e.nodeCollected, en)
		en.hasCleanup = true
	}
	e.store.insert(en)
	return en
}

// nodeCollected runs on a runtime goroutine once the node of a node matcher
// is unreachable.
func (e *Engine) nodeCollected(en *entry) {
	e.loop.Post(func() {
		e.mutate(func() { e.purge(en) })
	})
}

func (e *Engine) initialScan(reg *registration) {
	seen := make(map[*html.Node]struct{})
	for _, t := range e.territories {
		for _, n := range e.queryAll(reg.entry, t) {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			reg.entry.mark(n)
			e.sched.enqueue(reg, Event{Kind: Exists, Node: n, Matcher: reg.matcher, Disconnect: reg.disconnect})
		}
	}
}

func (e *Engine) disconnect(reg *registration) {
	switch reg.state {
	case stateDisconnected:
		return
	case statePending:
		reg.state = stateDisconnected
		return
	}
	reg.state = stateDisconnected
	if reg.alias != nil {
		e.disconnect(reg.alias)
		return
	}
	e.mutate(func() { e.detach(reg) })
}

func (e *Engine) detach(reg *registration) {
	en := reg.entry
	if en == nil || en.retired {
		return
	}
	n := len(en.regs)
	en.regs = slices.DeleteFunc(en.regs, func(r *registration) bool { return r == reg })
	e.store.size -= n - len(en.regs)
	if len(en.regs) == 0 {
		e.dropEntry(en)
	}
	if e.store.size == 0 {
		e.stopWatch()
	}
}

// purge removes an entry and every registration on it.
func (e *Engine) purge(en *entry) {
	if en.retired {
		return
	}
	for _, r := range en.regs {
		r.state = stateDisconnected
	}
	e.store.size -= len(en.regs)
	en.regs = nil
	e.dropEntry(en)
	e.logger.Debug("elobs: purged collected node matcher", "kind", en.kind)
	if e.store.size == 0 {
		e.stopWatch()
	}
}

func (e *Engine) dropEntry(en *entry) {
	en.retired = true
	en.matched = nil
	if en.hasCleanup {
		en.cleanup.Stop()
		en.hasCleanup = false
	}
	e.store.delete(en)
}

// purgeCollected retires every node matcher whose node is gone.
func (e *Engine) purgeCollected() int {
	var dead []*entry
	for k := range e.store.order {
		for _, en := range e.store.order[k] {
			if en.collected() {
				dead = append(dead, en)
			}
		}
	}
	for _, en := range dead {
		e.mutate(func() { e.purge(en) })
	}
	return len(dead)
}

// mark records n in the match state table and reports whether it was new.
func (en *entry) mark(n *html.Node) bool {
	if en.matched == nil {
		return true
	}
	k := weak.Make(n)
	if _, ok := en.matched[k]; ok {
		return false
	}
	en.matched[k] = struct{}{}
	return true
}

// forgetUnder drops match state for nodes inside a detached subtree and for
// nodes that were collected.
func (en *entry) forgetUnder(root *html.Node) {
	for k := range en.matched {
		n := k.Value()
		if n == nil || dom.Contains(root, n) {
			delete(en.matched, k)
		}
	}
}

func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return true
	}
	v := reflect.ValueOf(h)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// sameHandler reports whether a and b are the same comparable handler value.
func sameHandler(a, b Handler) (same bool) {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	// Structs holding interface fields can still panic on comparison.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
