// Package domwatch watches web pages for elements that appear, disappear,
// exist or change, and reports them as batches of events.
//
// Each page has a set of rules (kind + CSS selector). Browser pages run in a
// Chrome tab whose DOM is mirrored into an in-process tree observed by an
// elobs engine. Static pages are fetched over HTTP and their exists rules
// evaluated once per fetch.
package domwatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/vitrine/domwatch/internal/browser"
	"github.com/hazyhaar/vitrine/domwatch/internal/config"
	"github.com/hazyhaar/vitrine/domwatch/internal/fetcher"
	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
	"github.com/hazyhaar/vitrine/domwatch/internal/sink"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

var (
	ErrUnknownPage   = errors.New("domwatch: unknown page")
	ErrDuplicatePage = errors.New("domwatch: page already watched")
	ErrNoHistory     = errors.New("domwatch: no sqlite sink configured")
)

// Rule is a watch rule: a name, an event kind and a CSS selector.
type Rule = pagewatch.Rule

// PageInfo describes a watched page.
type PageInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Mode  string `json:"mode"`
	Rules int    `json:"rules"`
}

// Option configures a Watcher.
type Option func(*Watcher)

func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.logger = l } }

// WithSinks adds sinks on top of those in the configuration.
func WithSinks(s ...Sink) Option { return func(w *Watcher) { w.extra = append(w.extra, s...) } }

// WithRuleStore persists rule changes in db and applies rules written to it
// by other processes. db must have RuleSchema applied and allow at least
// two open connections.
func WithRuleStore(db *sql.DB) Option { return func(w *Watcher) { w.db = db } }

// WithHistory makes Recent read from s.
func WithHistory(s *sink.SQLite) Option { return func(w *Watcher) { w.history = s } }

// Watcher runs every configured page.
type Watcher struct {
	cfg     *config.Config
	logger  *slog.Logger
	extra   []Sink
	db      *sql.DB
	history *sink.SQLite

	router *sink.Router
	hub    *sink.Hub
	fetch  *fetcher.Fetcher
	mgr    *browser.Manager

	mu      sync.Mutex
	ctx     context.Context
	stop    context.CancelFunc
	pages   map[string]*watched
	order   []string
	browser bool
	wg      sync.WaitGroup
}

// watched is one page. Static pages keep their rules here; browser pages
// keep them in their pagewatch.Page.
type watched struct {
	cfg    config.PageConfig
	mode   string
	ctx    context.Context
	page   *pagewatch.Page
	tab    *browser.Tab
	detach context.CancelFunc
	cancel context.CancelFunc
	rules  []Rule
	stored map[string]Rule
	etag   string
	seq    uint64
}

// New builds a watcher. Sinks are created from cfg.Sinks; Start runs it.
func New(cfg *Config, opts ...Option) (*Watcher, error) {
	w := &Watcher{cfg: cfg, logger: slog.Default(), pages: make(map[string]*watched)}
	for _, o := range opts {
		o(w)
	}
	sinks, err := buildSinks(cfg.Sinks, w.logger)
	if err != nil {
		return nil, err
	}
	for _, s := range sinks {
		if sq, ok := s.(*sink.SQLite); ok && w.history == nil {
			w.history = sq
		}
	}
	w.hub = sink.NewHub(64, w.logger)
	w.router = sink.NewRouter(w.logger, append(sinks, w.extra...)...)
	w.router.Add(w.hub)
	w.fetch = fetcher.New(fetcher.WithLogger(w.logger), fetcher.WithSnippetLen(cfg.SnippetLen))
	w.mgr = browser.NewManager(browser.Config{
		Remote:          cfg.Browser.Remote,
		Bin:             cfg.Browser.Bin,
		Headless:        cfg.Browser.IsHeadless(),
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Block:           cfg.Browser.ResourceBlocking,
		XvfbDisplay:     cfg.Browser.XvfbDisplay,
		Logger:          w.logger,
	})
	return w, nil
}

// Start watches every configured page, merged with stored rules. Pages that
// fail to start are logged and skipped.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	w.mu.Lock()
	w.ctx, w.stop = ctx, stop
	w.mu.Unlock()

	var stored map[string][]Rule
	if w.db != nil {
		var err error
		if stored, err = config.LoadRules(ctx, w.db); err != nil {
			stop()
			return fmt.Errorf("domwatch: %w", err)
		}
	}
	for _, pc := range w.cfg.Pages {
		if err := w.watch(ctx, pc, stored[pc.ID]); err != nil {
			w.logger.Error("domwatch: page not started", "page", pc.ID, "url", pc.URL, "error", err)
		}
	}
	if w.db != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			err := config.WatchRules(ctx, w.db, time.Second, func() { w.reloadStored(ctx) })
			if err != nil {
				w.logger.Error("domwatch: rule store watch stopped", "error", err)
			}
		}()
	}
	return nil
}

// Watch adds a page at runtime. ctx bounds the startup only; the page runs
// until Stop.
func (w *Watcher) Watch(ctx context.Context, pc PageConfig) error {
	return w.watch(ctx, pc, nil)
}

func (w *Watcher) watch(ctx context.Context, pc config.PageConfig, stored []Rule) error {
	if pc.Mode == "" {
		pc.Mode = "auto"
	}
	if pc.FetchInterval <= 0 {
		pc.FetchInterval = 15 * time.Minute
	}
	for _, r := range pc.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("domwatch: page %s: %w", pc.ID, err)
		}
	}
	w.mu.Lock()
	if _, dup := w.pages[pc.ID]; dup {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatePage, pc.ID)
	}
	w.mu.Unlock()

	wp := &watched{cfg: pc, stored: make(map[string]Rule)}
	wp.rules = slices.Clone(pc.Rules)
	for _, r := range stored {
		if !slices.ContainsFunc(wp.rules, func(x Rule) bool { return x.Name == r.Name }) {
			wp.rules = append(wp.rules, r)
			wp.stored[r.Name] = r
		}
	}

	wp.mode = w.resolveMode(ctx, pc)
	pctx, cancel := context.WithCancel(w.base())
	wp.ctx, wp.cancel = pctx, cancel

	var err error
	if wp.mode == "static" {
		w.startStatic(pctx, wp)
	} else {
		err = w.startBrowser(pctx, wp)
	}
	if err != nil {
		cancel()
		return err
	}

	w.mu.Lock()
	w.pages[pc.ID] = wp
	w.order = append(w.order, pc.ID)
	w.mu.Unlock()
	w.logger.Info("domwatch: watching page", "page", pc.ID, "url", pc.URL, "mode", wp.mode, "rules", len(wp.rules))
	return nil
}

// resolveMode picks static for "auto" pages whose HTTP body is sufficient.
func (w *Watcher) resolveMode(ctx context.Context, pc config.PageConfig) string {
	if pc.Mode != "auto" {
		return pc.Mode
	}
	res, err := w.fetch.Fetch(ctx, fetcher.Request{PageID: pc.ID, URL: pc.URL})
	if err != nil {
		w.logger.Warn("domwatch: probe failed, using browser", "page", pc.ID, "error", err)
		return "browser"
	}
	if res.Sufficient {
		return "static"
	}
	return "browser"
}

func (w *Watcher) startStatic(ctx context.Context, wp *watched) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(wp.cfg.FetchInterval)
		defer t.Stop()
		for {
			w.fetchOnce(ctx, wp)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
}

func (w *Watcher) fetchOnce(ctx context.Context, wp *watched) {
	w.mu.Lock()
	req := fetcher.Request{PageID: wp.cfg.ID, URL: wp.cfg.URL, Rules: slices.Clone(wp.rules), ETag: wp.etag}
	w.mu.Unlock()

	res, err := w.fetch.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("domwatch: fetch failed", "page", wp.cfg.ID, "error", err)
		}
		return
	}
	w.mu.Lock()
	wp.etag = res.ETag
	if !res.NotModified {
		wp.seq++
		res.Batch.Seq = wp.seq
	}
	w.mu.Unlock()
	if res.NotModified {
		return
	}
	if err := w.router.SendSnapshot(ctx, res.Snapshot); err != nil {
		w.logger.Warn("domwatch: send snapshot", "page", wp.cfg.ID, "error", err)
	}
	if len(res.Batch.Events) > 0 {
		if err := w.router.Send(ctx, res.Batch); err != nil {
			w.logger.Warn("domwatch: send batch", "page", wp.cfg.ID, "error", err)
		}
	}
}

func (w *Watcher) startBrowser(ctx context.Context, wp *watched) error {
	if err := w.ensureBrowser(); err != nil {
		return err
	}
	page, err := pagewatch.New(pagewatch.Config{
		ID:         wp.cfg.ID,
		URL:        wp.cfg.URL,
		Rules:      wp.rules,
		Sink:       w.router,
		Debounce:   w.cfg.Debounce.Window,
		MaxBuffer:  w.cfg.Debounce.MaxBuffer,
		SnippetLen: w.cfg.SnippetLen,
		Logger:     w.logger,
	})
	if err != nil {
		return fmt.Errorf("domwatch: %w", err)
	}
	wp.page = page
	if err := w.attach(ctx, wp); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := page.Run(ctx); err != nil {
			w.logger.Error("domwatch: page loop stopped", "page", wp.cfg.ID, "error", err)
		}
	}()
	return nil
}

// attach opens a tab for wp and streams its DOM into the page mirror.
func (w *Watcher) attach(ctx context.Context, wp *watched) error {
	tab, err := w.mgr.Open(ctx, wp.cfg.URL, 0)
	if err != nil {
		return fmt.Errorf("domwatch: %w", err)
	}
	actx, detach := context.WithCancel(ctx)
	w.mu.Lock()
	wp.tab, wp.detach = tab, detach
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer tab.Close()
		if err := wp.page.Attach(actx, tab.Page); err != nil {
			w.logger.Error("domwatch: attach failed", "page", wp.cfg.ID, "error", err)
		}
	}()
	return nil
}

func (w *Watcher) ensureBrowser() error {
	ctx := w.base()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.browser {
		return nil
	}
	if err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("domwatch: start browser: %w", err)
	}
	w.mgr.OnRecycle(func(*rod.Browser) { w.reattach() })
	w.browser = true
	return nil
}

// reattach gives every browser page a tab in the new browser. Page state,
// rules and sequence numbers carry over; the reload emits a new snapshot.
func (w *Watcher) reattach() {
	w.mu.Lock()
	var pages []*watched
	for _, id := range w.order {
		if wp := w.pages[id]; wp.page != nil {
			if wp.detach != nil {
				wp.detach()
			}
			pages = append(pages, wp)
		}
	}
	w.mu.Unlock()

	for _, wp := range pages {
		if err := w.attach(wp.ctx, wp); err != nil {
			w.logger.Error("domwatch: reattach failed", "page", wp.cfg.ID, "error", err)
		}
	}
}

// Pages lists watched pages in the order they were added.
func (w *Watcher) Pages() []PageInfo {
	w.mu.Lock()
	ids := slices.Clone(w.order)
	w.mu.Unlock()

	out := make([]PageInfo, 0, len(ids))
	for _, id := range ids {
		wp, err := w.lookup(id)
		if err != nil {
			continue
		}
		rules, _ := w.Rules(context.Background(), id)
		out = append(out, PageInfo{ID: id, URL: wp.cfg.URL, Mode: wp.mode, Rules: len(rules)})
	}
	return out
}

// Rules returns the rules of a page.
func (w *Watcher) Rules(ctx context.Context, id string) ([]Rule, error) {
	wp, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	if wp.page != nil {
		return wp.page.Rules(ctx)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(wp.rules), nil
}

// AddRule adds r to a page and persists it in the rule store, if any.
func (w *Watcher) AddRule(ctx context.Context, id string, r Rule) error {
	if err := w.addRule(ctx, id, r); err != nil {
		return err
	}
	if w.db != nil {
		if err := config.SaveRule(ctx, w.db, id, r); err != nil {
			return fmt.Errorf("domwatch: %w", err)
		}
		w.mu.Lock()
		if wp := w.pages[id]; wp != nil {
			wp.stored[r.Name] = r
		}
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) addRule(ctx context.Context, id string, r Rule) error {
	wp, err := w.lookup(id)
	if err != nil {
		return err
	}
	if wp.page != nil {
		return wp.page.AddRule(ctx, r)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if slices.ContainsFunc(wp.rules, func(x Rule) bool { return x.Name == r.Name }) {
		return fmt.Errorf("%w: %s", pagewatch.ErrDuplicateRule, r.Name)
	}
	wp.rules = append(wp.rules, r)
	return nil
}

// RemoveRule removes a rule from a page and from the rule store.
func (w *Watcher) RemoveRule(ctx context.Context, id, name string) error {
	if err := w.removeRule(ctx, id, name); err != nil {
		return err
	}
	if w.db != nil {
		if _, err := config.DeleteRule(ctx, w.db, id, name); err != nil {
			return fmt.Errorf("domwatch: %w", err)
		}
		w.mu.Lock()
		if wp := w.pages[id]; wp != nil {
			delete(wp.stored, name)
		}
		w.mu.Unlock()
	}
	return nil
}

func (w *Watcher) removeRule(ctx context.Context, id, name string) error {
	wp, err := w.lookup(id)
	if err != nil {
		return err
	}
	if wp.page != nil {
		return wp.page.RemoveRule(ctx, name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	i := slices.IndexFunc(wp.rules, func(x Rule) bool { return x.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: %s", pagewatch.ErrUnknownRule, name)
	}
	wp.rules = slices.Delete(wp.rules, i, i+1)
	return nil
}

// Query returns exists events for what sel matches on the page now. Static
// pages are fetched again.
func (w *Watcher) Query(ctx context.Context, id, sel string) ([]mutation.Event, error) {
	wp, err := w.lookup(id)
	if err != nil {
		return nil, err
	}
	if wp.page != nil {
		return wp.page.Query(ctx, sel)
	}
	res, err := w.fetch.Fetch(ctx, fetcher.Request{
		PageID: id,
		URL:    wp.cfg.URL,
		Rules:  []Rule{{Name: "query", Kind: "exists", Selector: sel}},
	})
	if err != nil {
		return nil, fmt.Errorf("domwatch: query: %w", err)
	}
	return res.Batch.Events, nil
}

// Recent returns the latest stored batches of a page.
func (w *Watcher) Recent(ctx context.Context, id string, limit int) ([]mutation.Batch, error) {
	if _, err := w.lookup(id); err != nil {
		return nil, err
	}
	if w.history == nil {
		return nil, ErrNoHistory
	}
	return w.history.Recent(ctx, id, limit)
}

// Unwatch stops watching page id. Its last batch is still delivered.
func (w *Watcher) Unwatch(id string) error {
	w.mu.Lock()
	wp, ok := w.pages[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	delete(w.pages, id)
	w.order = slices.DeleteFunc(w.order, func(s string) bool { return s == id })
	w.mu.Unlock()
	wp.cancel()
	w.logger.Info("domwatch: page unwatched", "page", id)
	return nil
}

// Reload brings running pages in line with cfg: new pages are started,
// missing ones stopped and configured rules of the others replaced. Rules
// added at runtime are left alone. Other settings need a restart.
func (w *Watcher) Reload(ctx context.Context, cfg *Config) {
	var stored map[string][]Rule
	if w.db != nil {
		var err error
		if stored, err = config.LoadRules(ctx, w.db); err != nil {
			w.logger.Error("domwatch: reload rules", "error", err)
		}
	}

	want := make(map[string]bool, len(cfg.Pages))
	for _, pc := range cfg.Pages {
		want[pc.ID] = true
		wp, err := w.lookup(pc.ID)
		if err != nil {
			if err := w.watch(ctx, pc, stored[pc.ID]); err != nil {
				w.logger.Error("domwatch: page not started", "page", pc.ID, "error", err)
			}
			continue
		}
		w.syncRules(ctx, wp, pc.Rules)
	}

	w.mu.Lock()
	var gone []string
	for _, id := range w.order {
		if !want[id] {
			gone = append(gone, id)
		}
	}
	w.mu.Unlock()
	for _, id := range gone {
		w.Unwatch(id)
	}
}

// syncRules swaps the configured rules of wp for rules.
func (w *Watcher) syncRules(ctx context.Context, wp *watched, rules []Rule) {
	w.mu.Lock()
	old := slices.Clone(wp.cfg.Rules)
	w.mu.Unlock()

	id := wp.cfg.ID
	for _, r := range old {
		i := slices.IndexFunc(rules, func(x Rule) bool { return x.Name == r.Name })
		if i >= 0 && rules[i] == r {
			continue
		}
		if err := w.removeRule(ctx, id, r.Name); err != nil && !errors.Is(err, ErrUnknownRule) {
			w.logger.Warn("domwatch: drop configured rule", "page", id, "rule", r.Name, "error", err)
		}
	}
	for _, r := range rules {
		if slices.Contains(old, r) {
			continue
		}
		if err := w.addRule(ctx, id, r); err != nil {
			w.logger.Warn("domwatch: add configured rule", "page", id, "rule", r.Name, "error", err)
		}
	}

	w.mu.Lock()
	wp.cfg.Rules = slices.Clone(rules)
	w.mu.Unlock()
}

// Subscribe streams the batches of page id as they are emitted, or of
// every page when id is empty. cancel ends the stream.
func (w *Watcher) Subscribe(id string) (<-chan mutation.Batch, func(), error) {
	if id != "" {
		if _, err := w.lookup(id); err != nil {
			return nil, nil, err
		}
	}
	ch, cancel := w.hub.Subscribe(id)
	return ch, cancel, nil
}

// reloadStored applies the rule store to running pages: new stored rules
// are added, changed ones replaced, deleted ones removed. Rules from the
// configuration file are left alone.
func (w *Watcher) reloadStored(ctx context.Context) {
	stored, err := config.LoadRules(ctx, w.db)
	if err != nil {
		w.logger.Error("domwatch: reload rules", "error", err)
		return
	}

	w.mu.Lock()
	ids := slices.Clone(w.order)
	w.mu.Unlock()

	for _, id := range ids {
		w.mu.Lock()
		wp := w.pages[id]
		prev := make(map[string]Rule, len(wp.stored))
		for k, v := range wp.stored {
			prev[k] = v
		}
		w.mu.Unlock()

		want := make(map[string]Rule)
		for _, r := range stored[id] {
			want[r.Name] = r
		}
		for name, r := range prev {
			if nr, ok := want[name]; !ok || nr != r {
				w.applyStored(ctx, wp, name, nil)
			}
		}
		for name, r := range want {
			if pr, ok := prev[name]; !ok || pr != r {
				w.applyStored(ctx, wp, name, &r)
			}
		}
	}
}

// applyStored removes the stored rule called name from wp, then adds r
// when it is not nil.
func (w *Watcher) applyStored(ctx context.Context, wp *watched, name string, r *Rule) {
	w.mu.Lock()
	_, had := wp.stored[name]
	w.mu.Unlock()
	if had {
		if err := w.removeRule(ctx, wp.cfg.ID, name); err != nil {
			w.logger.Warn("domwatch: drop stored rule", "page", wp.cfg.ID, "rule", name, "error", err)
		}
		w.mu.Lock()
		delete(wp.stored, name)
		w.mu.Unlock()
	}
	if r == nil {
		return
	}
	if err := w.addRule(ctx, wp.cfg.ID, *r); err != nil {
		w.logger.Warn("domwatch: apply stored rule", "page", wp.cfg.ID, "rule", name, "error", err)
		return
	}
	w.mu.Lock()
	wp.stored[name] = *r
	w.mu.Unlock()
	w.logger.Info("domwatch: stored rule applied", "page", wp.cfg.ID, "rule", name)
}

func (w *Watcher) base() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

func (w *Watcher) lookup(id string) (*watched, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wp, ok := w.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return wp, nil
}

// Stop ends every page, waits for their final batches and closes the sinks
// and the browser.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stop != nil {
		w.stop()
	}
	for _, wp := range w.pages {
		wp.cancel()
	}
	w.mu.Unlock()
	w.wg.Wait()

	errs := []error{w.router.Close()}
	if w.browser {
		errs = append(errs, w.mgr.Close())
	}
	return errors.Join(errs...)
}
