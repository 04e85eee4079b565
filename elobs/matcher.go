package elobs

import (
	"fmt"
	"weak"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/selector"
)

// Matcher selects nodes of interest: either a selector expression,
// compared by value, or the identity of one node. A node matcher holds only
// a weak reference; it never keeps its node alive.
type Matcher struct {
	expr string
	ref  weak.Pointer[html.Node]
	node bool
}

// Selector returns a matcher for a structural pattern expression.
func Selector(expr string) Matcher { return Matcher{expr: expr} }

// NodeRef returns a matcher for the identity of n.
func NodeRef(n *html.Node) Matcher {
	m := Matcher{node: true}
	if n != nil {
		m.ref = weak.Make(n)
	}
	return m
}

// IsSelector reports whether m is a selector matcher.
func (m Matcher) IsSelector() bool { return !m.node }

// Node returns the node of a node matcher, or nil for selector matchers
// and for nodes that were garbage collected.
func (m Matcher) Node() *html.Node {
	if !m.node {
		return nil
	}
	return m.ref.Value()
}

func (m Matcher) String() string {
	if !m.node {
		return m.expr
	}
	n := m.ref.Value()
	if n == nil {
		return "node(collected)"
	}
	return fmt.Sprintf("node(<%s>)", n.Data)
}

// matcherKey identifies a matcher inside one event kind. Weak pointers made
// from the same node compare equal, so registering the same node twice
// resolves to the same entry.
type matcherKey struct {
	expr string
	ref  weak.Pointer[html.Node]
	node bool
}

func (m Matcher) key() matcherKey {
	return matcherKey{expr: m.expr, ref: m.ref, node: m.node}
}

// resolve validates m and compiles its pattern. Node matchers return a nil
// pattern.
func (m Matcher) resolve(c selector.Compiler) (selector.Pattern, error) {
	if m.node {
		if m.ref.Value() == nil {
			return nil, fmt.Errorf("%w: nil node", ErrInvalidMatcher)
		}
		return nil, nil
	}
	p, err := c.Compile(m.expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMatcher, err)
	}
	return p, nil
}

// matchAll returns the nodes under root (inclusive) selected by m.
func matchAll(m Matcher, p selector.Pattern, root *html.Node) []*html.Node {
	if p != nil {
		return p.QueryAll(root)
	}
	n := m.ref.Value()
	if n != nil && dom.Contains(root, n) {
		return []*html.Node{n}
	}
	return nil
}

// matchOne reports whether n is selected by m.
func matchOne(m Matcher, p selector.Pattern, n *html.Node) bool {
	if p != nil {
		return p.Match(n)
	}
	return n != nil && m.ref.Value() == n
}
