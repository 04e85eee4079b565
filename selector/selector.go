// Package selector compiles structural patterns (CSS selectors) into
// predicates over html.Node trees.
//
// The observation engine only depends on the Pattern and Compiler
// interfaces; this package binds them to cascadia.
package selector

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
	"github.com/patrickmn/go-cache"
	"golang.org/x/net/html"
)

// ErrInvalid is wrapped by every compile failure.
var ErrInvalid = errors.New("selector: invalid pattern")

// Pattern is a compiled structural predicate.
type Pattern interface {
	// Match reports whether n satisfies the pattern.
	Match(n *html.Node) bool
	// QueryAll returns root and its descendants that satisfy the pattern,
	// in document order.
	QueryAll(root *html.Node) []*html.Node
	// String returns the source expression.
	String() string
}

// Compiler turns expressions into patterns.
type Compiler interface {
	Compile(expr string) (Pattern, error)
}

type cssPattern struct {
	expr string
	sel  cascadia.Selector
}

func (p *cssPattern) Match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return p.sel.Match(n)
}

func (p *cssPattern) QueryAll(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if p.Match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

func (p *cssPattern) String() string { return p.expr }

// Parse compiles expr without caching.
func Parse(expr string) (Pattern, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalid)
	}
	sel, err := cascadia.Compile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalid, expr, err)
	}
	return &cssPattern{expr: expr, sel: sel}, nil
}

// Cache is a Compiler that memoises compiled patterns by expression.
type Cache struct {
	c     *cache.Cache
	ttl   time.Duration
	limit int
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL expires patterns that were not compiled again for d. Zero (the
// default) keeps them until the process exits.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithLimit stops caching new expressions once n are held. Patterns past the
// limit are still compiled, just not kept.
func WithLimit(n int) CacheOption {
	return func(c *Cache) { c.limit = n }
}

// NewCache creates a caching compiler.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{ttl: cache.NoExpiration}
	for _, o := range opts {
		o(c)
	}
	c.c = cache.New(c.ttl, 10*time.Minute)
	return c
}

// Compile returns the cached pattern for expr, compiling it on first use.
// Failures are not cached.
func (c *Cache) Compile(expr string) (Pattern, error) {
	if v, ok := c.c.Get(expr); ok {
		if c.ttl != cache.NoExpiration {
			c.c.Set(expr, v, cache.DefaultExpiration)
		}
		return v.(Pattern), nil
	}
	p, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if c.limit > 0 && c.c.ItemCount() >= c.limit {
		return p, nil
	}
	c.c.Set(expr, p, cache.DefaultExpiration)
	return p, nil
}

// Len reports the number of cached patterns.
func (c *Cache) Len() int { return c.c.ItemCount() }

// Default is the process-wide pattern cache.
var Default = NewCache(WithTTL(30*time.Minute), WithLimit(4096))

// Compile compiles expr through Default.
func Compile(expr string) (Pattern, error) {
	return Default.Compile(expr)
}
