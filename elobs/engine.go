// Package elobs watches a dom.Document for nodes that appear, disappear,
// exist or change under a set of territories, and delivers deduplicated
// events to registered handlers.
//
// An Engine, its document and its handlers all run on the document's loop.
// Batches from the document are processed in one macrotask; their events are
// flushed on the following microtask, once per (registration, node) pair.
// Within one kind, registrations see events in the order they were made,
// whatever matcher they used. An exists event is reported once per node
// until the node leaves the tree.
// Handlers may register and disconnect freely: store changes requested while
// a batch is processed are applied, in order, when processing ends.
package elobs

import (
	"log/slog"
	"slices"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/loop"
	"github.com/hazyhaar/vitrine/selector"
)

// Config configures an Engine.
type Config struct {
	// Document is the tree to observe. Required, and must have a loop.
	Document *dom.Document
	// Territories are the observed roots. Defaults to the document root.
	Territories []*html.Node
	// Compiler compiles selector matchers. Defaults to selector.Default.
	Compiler selector.Compiler
	// Reporter receives handler failures. Defaults to logging at error level.
	Reporter ReportFunc
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Compiler == nil {
		c.Compiler = selector.Default
	}
	if len(c.Territories) == 0 && c.Document != nil {
		c.Territories = []*html.Node{c.Document.Root()}
	}
	if c.Reporter == nil {
		logger := c.Logger
		c.Reporter = func(err error) {
			logger.Error("elobs: handler failed", "error", err)
		}
	}
}

// Engine is an element observer over one document.
type Engine struct {
	doc      *dom.Document
	loop     *loop.Loop
	compiler selector.Compiler
	report   ReportFunc
	logger   *slog.Logger

	store       store
	regSeq      uint64
	territories []*html.Node
	observer    *dom.Observer

	processing bool
	deferred   []func()
	sched      scheduler
}

// New creates an engine. Observation starts with the first registration.
func New(cfg Config) (*Engine, error) {
	if cfg.Document == nil {
		return nil, ErrNoDocument
	}
	if cfg.Document.Loop() == nil {
		return nil, ErrNoLoop
	}
	cfg.defaults()

	e := &Engine{
		doc:      cfg.Document,
		loop:     cfg.Document.Loop(),
		compiler: cfg.Compiler,
		report:   cfg.Reporter,
		logger:   cfg.Logger,
	}
	e.sched.e = e
	for _, t := range cfg.Territories {
		if t == nil {
			return nil, ErrNilTerritory
		}
		if !slices.Contains(e.territories, t) {
			e.territories = append(e.territories, t)
		}
	}
	return e, nil
}

// Document returns the observed document.
func (e *Engine) Document() *dom.Document { return e.doc }

// On registers h for kind events on m. Registering the same comparable
// handler twice for one (kind, matcher) pair keeps a single registration;
// both disconnectors remove it.
func (e *Engine) On(kind EventKind, m Matcher, h Handler) (Disconnector, error) {
	return e.register(kind, m, h)
}

// OnExists fires for every node matching m now, and for every node that
// starts matching later.
func (e *Engine) OnExists(m Matcher, h Handler) (Disconnector, error) {
	return e.register(Exists, m, h)
}

// OnCreated fires when a node matching m is inserted.
func (e *Engine) OnCreated(m Matcher, h Handler) (Disconnector, error) {
	return e.register(Created, m, h)
}

// OnRemoved fires when a node matching m is detached, directly or with an
// ancestor.
func (e *Engine) OnRemoved(m Matcher, h Handler) (Disconnector, error) {
	return e.register(Removed, m, h)
}

// OnChanged fires when a node matching m has its children or attributes
// modified. m must be a selector matcher.
func (e *Engine) OnChanged(m Matcher, h Handler) (Disconnector, error) {
	return e.register(Changed, m, h)
}

// Len returns the number of live registrations.
func (e *Engine) Len() int { return e.store.size }
