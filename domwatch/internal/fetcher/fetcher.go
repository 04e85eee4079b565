// Package fetcher is the browserless path: one HTTP GET, the page parsed
// into a document, its exists rules evaluated once.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/domwatch/internal/pagewatch"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
	"github.com/hazyhaar/vitrine/elobs"
	"github.com/hazyhaar/vitrine/idgen"
	"github.com/hazyhaar/vitrine/loop"
)

const maxBody = 10 << 20

// Request describes one page to fetch.
type Request struct {
	PageID string
	URL    string
	Rules  []pagewatch.Rule
	// ETag, when set, makes the GET conditional.
	ETag string
}

// Result is the outcome of a fetch. Snapshot and Batch are empty when the
// server answered 304.
type Result struct {
	Snapshot    mutation.Snapshot
	Batch       mutation.Batch
	StatusCode  int
	ETag        string
	LastMod     string
	NotModified bool
	// Sufficient is false for pages that look like script-rendered shells.
	Sufficient bool
}

// Fetcher runs static fetches.
type Fetcher struct {
	client     *http.Client
	ua         string
	snippetLen int
	logger     *slog.Logger
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }
func WithUserAgent(ua string) Option   { return func(f *Fetcher) { f.ua = ua } }
func WithSnippetLen(n int) Option      { return func(f *Fetcher) { f.snippetLen = n } }
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; domwatch/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs req.URL and evaluates its exists rules against the body.
// Rules of other kinds need a live page and are skipped.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	hr.Header.Set("User-Agent", f.ua)
	hr.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if req.ETag != "" {
		hr.Header.Set("If-None-Match", req.ETag)
	}

	resp, err := f.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("fetcher: get %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	res := &Result{
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		LastMod:    resp.Header.Get("Last-Modified"),
	}
	if resp.StatusCode == http.StatusNotModified {
		res.NotModified = true
		return res, nil
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: get %s: status %d", req.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	now := time.Now().UnixMilli()
	res.Sufficient = IsSufficient(body)
	res.Snapshot = mutation.Snapshot{
		ID:        idgen.New(),
		PageURL:   req.URL,
		PageID:    req.PageID,
		HTML:      body,
		HTMLHash:  mutation.HashHTML(body),
		Timestamp: now,
	}

	events, err := f.Scan(body, req.Rules)
	if err != nil {
		return nil, err
	}
	res.Batch = mutation.Batch{
		ID:          idgen.New(),
		PageURL:     req.URL,
		PageID:      req.PageID,
		Seq:         1,
		Events:      events,
		Timestamp:   now,
		SnapshotRef: res.Snapshot.ID,
	}

	f.logger.Debug("fetcher: fetched", "url", req.URL, "status", resp.StatusCode,
		"size", len(body), "events", len(events), "sufficient", res.Sufficient)
	return res, nil
}

// Scan parses body and returns one exists event per node matching each
// exists rule, rules in order.
func (f *Fetcher) Scan(body []byte, rules []pagewatch.Rule) ([]mutation.Event, error) {
	doc, err := dom.Parse(loop.New(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	eng, err := elobs.New(elobs.Config{Document: doc, Logger: f.logger})
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	var events []mutation.Event
	for _, r := range rules {
		if r.Kind != elobs.Exists.String() {
			f.logger.Debug("fetcher: rule needs a browser", "rule", r.Name, "kind", r.Kind)
			continue
		}
		err := eng.IfExists(elobs.Selector(r.Selector), elobs.HandlerFunc(func(ev elobs.Event) error {
			events = append(events, pagewatch.BuildEvent(r.Name, ev, f.snippetLen))
			return nil
		}))
		if err != nil {
			return nil, fmt.Errorf("fetcher: rule %s: %w", r.Name, err)
		}
	}
	return events, nil
}

// Head checks the validators of url without downloading the body.
func (f *Fetcher) Head(ctx context.Context, url string) (etag, lastMod string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head %s: %w", url, err)
	}
	resp.Body.Close()
	return resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}
