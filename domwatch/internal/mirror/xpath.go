package mirror

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns a location path for n within its tree. Element steps carry
// a position only when the parent has more than one child with that tag.
// Shadow root templates appear as "shadow-root".
func XPath(n *html.Node) string {
	var steps []string
	for c := n; c != nil && c.Type != html.DocumentNode; c = c.Parent {
		steps = append(steps, step(c))
	}
	if len(steps) == 0 {
		return "/"
	}
	slices.Reverse(steps)
	return "/" + strings.Join(steps, "/")
}

func step(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		return "text()"
	case html.CommentNode:
		return "comment()"
	case html.DoctypeNode:
		return "doctype()"
	}
	if n.Data == "template" && hasAttr(n, "shadowrootmode") {
		return "shadow-root"
	}
	if n.Parent == nil {
		return n.Data
	}
	idx, total := 0, 0
	for s := n.Parent.FirstChild; s != nil; s = s.NextSibling {
		if s.Type != html.ElementNode || s.Data != n.Data {
			continue
		}
		total++
		if s == n {
			idx = total
		}
	}
	if total > 1 {
		return fmt.Sprintf("%s[%d]", n.Data, idx)
	}
	return n.Data
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
