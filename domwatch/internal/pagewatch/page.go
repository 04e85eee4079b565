// Package pagewatch watches one page: a loop owns the page's mirrored
// document and its element observer, rules become registrations, and the
// matched events leave in debounced batches through a sink.
package pagewatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/domwatch/internal/mirror"
	"github.com/hazyhaar/vitrine/domwatch/internal/sink"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
	"github.com/hazyhaar/vitrine/elobs"
	"github.com/hazyhaar/vitrine/idgen"
	"github.com/hazyhaar/vitrine/loop"
)

// Config configures a Page.
type Config struct {
	ID    string
	URL   string
	Rules []Rule
	Sink  sink.Sink
	// Debounce is the quiet period before a batch is emitted. Default 250ms.
	Debounce time.Duration
	// MaxBuffer flushes a batch early once this many events are buffered.
	// Default 1000.
	MaxBuffer  int
	SnippetLen int
	Logger     *slog.Logger
}

// Page is the watch state of one page. Its fields are owned by its loop.
type Page struct {
	id, url    string
	logger     *slog.Logger
	sink       sink.Sink
	snippetLen int

	loop   *loop.Loop
	doc    *dom.Document
	mirror *mirror.Mirror
	engine *elobs.Engine
	deb    *debouncer

	rules map[string]*ruleHandler
	order []string

	seq         uint64
	snapshotRef string
	out         chan any
}

// New builds a page with its rules registered. Nothing runs until Run.
func New(cfg Config) (*Page, error) {
	if cfg.ID == "" {
		return nil, errors.New("pagewatch: page id required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("pagewatch: sink required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("page", cfg.ID)

	l := loop.New(loop.WithLogger(logger))
	doc := dom.New(l)
	engine, err := elobs.New(elobs.Config{
		Document: doc,
		Logger:   logger,
		Reporter: func(err error) { logger.Warn("pagewatch: rule handler failed", "error", err) },
	})
	if err != nil {
		return nil, fmt.Errorf("pagewatch: %w", err)
	}

	p := &Page{
		id:         cfg.ID,
		url:        cfg.URL,
		logger:     logger,
		sink:       cfg.Sink,
		snippetLen: cfg.SnippetLen,
		loop:       l,
		doc:        doc,
		mirror:     mirror.New(doc),
		engine:     engine,
		rules:      make(map[string]*ruleHandler),
		out:        make(chan any, 64),
	}
	p.deb = newDebouncer(l, cfg.Debounce, cfg.MaxBuffer, p.emitBatch)

	for _, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if err := p.addRule(r); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Page) ID() string  { return p.id }
func (p *Page) URL() string { return p.url }

// Loop returns the loop that owns the page state.
func (p *Page) Loop() *loop.Loop { return p.loop }

func (p *Page) Engine() *elobs.Engine { return p.engine }

// Run drives the page loop until ctx is done or Close is called, then
// flushes buffered events and waits for the sink to receive everything.
func (p *Page) Run(ctx context.Context) error {
	sendCtx := context.WithoutCancel(ctx)
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for item := range p.out {
			p.deliver(sendCtx, item)
		}
	}()

	err := p.loop.Run(ctx)
	p.loop.Close()
	p.loop.RunPending()
	p.deb.flush()
	close(p.out)
	<-sent

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops Run.
func (p *Page) Close() { p.loop.Close() }

func (p *Page) deliver(ctx context.Context, item any) {
	switch v := item.(type) {
	case mutation.Batch:
		if err := p.sink.Send(ctx, v); err != nil {
			p.logger.Error("pagewatch: send batch failed", "seq", v.Seq, "error", err)
		}
	case mutation.Snapshot:
		if err := p.sink.SendSnapshot(ctx, v); err != nil {
			p.logger.Error("pagewatch: send snapshot failed", "id", v.ID, "error", err)
		}
	}
}

// Apply runs fn against the mirror on the page loop. Errors are logged:
// CDP events referring to nodes the mirror never saw are expected around
// document resets.
func (p *Page) Apply(fn func(*mirror.Mirror) error) {
	p.loop.Post(func() {
		if err := fn(p.mirror); err != nil {
			p.logger.Debug("pagewatch: apply event", "error", err)
		}
	})
}

// Reset replaces the mirrored document with root, as returned by
// DOM.getDocument, and takes a snapshot. Buffered events are flushed first
// so they stay attached to the previous snapshot.
func (p *Page) Reset(root *proto.DOMNode) {
	p.loop.Post(func() {
		p.deb.flush()
		if err := p.mirror.Build(root); err != nil {
			p.logger.Error("pagewatch: rebuild document", "error", err)
			return
		}
		p.snapshot()
		p.logger.Info("pagewatch: document loaded", "url", p.url, "nodes", p.mirror.Len())
	})
}

// AddRule validates and registers r.
func (p *Page) AddRule(ctx context.Context, r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var err error
	if derr := p.loop.Do(ctx, func() { err = p.addRule(r) }); derr != nil {
		return fmt.Errorf("pagewatch: add rule: %w", derr)
	}
	return err
}

// RemoveRule disconnects the rule called name.
func (p *Page) RemoveRule(ctx context.Context, name string) error {
	found := false
	if err := p.loop.Do(ctx, func() {
		h, ok := p.rules[name]
		if !ok {
			return
		}
		found = true
		h.disconnect()
		delete(p.rules, name)
		p.order = slices.DeleteFunc(p.order, func(s string) bool { return s == name })
	}); err != nil {
		return fmt.Errorf("pagewatch: remove rule: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}
	return nil
}

// Rules returns the active rules in the order they were added.
func (p *Page) Rules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	err := p.loop.Do(ctx, func() {
		for _, name := range p.order {
			out = append(out, p.rules[name].rule)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("pagewatch: rules: %w", err)
	}
	return out, nil
}

// Query returns an exists event for every node currently matching sel.
// Nothing is registered.
func (p *Page) Query(ctx context.Context, sel string) ([]mutation.Event, error) {
	var (
		out  []mutation.Event
		qerr error
	)
	err := p.loop.Do(ctx, func() {
		qerr = p.engine.IfExists(elobs.Selector(sel), elobs.HandlerFunc(func(ev elobs.Event) error {
			out = append(out, BuildEvent("", ev, p.snippetLen))
			return nil
		}))
	})
	if err != nil {
		return nil, fmt.Errorf("pagewatch: query: %w", err)
	}
	if qerr != nil {
		return nil, fmt.Errorf("pagewatch: query %q: %w", sel, qerr)
	}
	return out, nil
}

func (p *Page) addRule(r Rule) error {
	if _, dup := p.rules[r.Name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, r.Name)
	}
	h := &ruleHandler{page: p, rule: r}
	d, err := p.engine.On(r.kind(), elobs.Selector(r.Selector), h)
	if err != nil {
		return fmt.Errorf("pagewatch: rule %s: %w", r.Name, err)
	}
	h.disconnect = d
	p.rules[r.Name] = h
	p.order = append(p.order, r.Name)
	p.logger.Debug("pagewatch: rule added", "rule", r.Name, "kind", r.Kind, "selector", r.Selector)
	return nil
}

func (p *Page) emitBatch(evs []mutation.Event) {
	p.seq++
	p.out <- mutation.Batch{
		ID:          idgen.New(),
		PageURL:     p.url,
		PageID:      p.id,
		Seq:         p.seq,
		Events:      evs,
		Timestamp:   time.Now().UnixMilli(),
		SnapshotRef: p.snapshotRef,
	}
}

func (p *Page) snapshot() {
	var buf bytes.Buffer
	if err := p.doc.Render(&buf); err != nil {
		p.logger.Error("pagewatch: render snapshot", "error", err)
		return
	}
	raw := buf.Bytes()
	snap := mutation.Snapshot{
		ID:        idgen.New(),
		PageURL:   p.url,
		PageID:    p.id,
		HTML:      raw,
		HTMLHash:  mutation.HashHTML(raw),
		Timestamp: time.Now().UnixMilli(),
	}
	p.snapshotRef = snap.ID
	p.out <- snap
}
