package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Contains reports whether n is root or one of its descendants.
func Contains(root, n *html.Node) bool {
	if root == nil {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

// Walk visits root and its descendants in document order. Returning false
// from fn skips the children of the visited node.
func Walk(root *html.Node, fn func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Attr returns the value of an attribute and whether it is present.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key && a.Namespace == "" {
			return a.Val, true
		}
	}
	return "", false
}

// OuterHTML renders n and its subtree.
func OuterHTML(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}
