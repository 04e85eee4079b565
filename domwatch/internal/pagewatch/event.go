package pagewatch

import (
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/domwatch/internal/mirror"
	"github.com/hazyhaar/vitrine/domwatch/mutation"
	"github.com/hazyhaar/vitrine/elobs"
	"github.com/hazyhaar/vitrine/idgen"
)

// DefaultSnippetLen bounds Event.Snippet, in bytes.
const DefaultSnippetLen = 512

var snippetPolicy = bluemonday.UGCPolicy()

// BuildEvent turns an engine event into a wire event for rule.
func BuildEvent(rule string, ev elobs.Event, snippetLen int) mutation.Event {
	n := ev.Node
	out := mutation.Event{
		ID:    idgen.New(),
		Kind:  mutation.Kind(ev.Kind.String()),
		Rule:  rule,
		XPath: locate(ev),
		At:    time.Now().UnixMilli(),
	}
	if n.Type == html.ElementNode {
		out.Tag = n.Data
		if len(n.Attr) > 0 {
			out.Attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				out.Attrs[a.Key] = a.Val
			}
		}
	}
	out.Snippet = Snippet(n, snippetLen)
	if rec := ev.Record; rec != nil && ev.Kind == elobs.Changed && rec.Type == dom.Attributes {
		out.Attr = rec.AttrName
		out.OldValue = rec.OldValue
	}
	return out
}

// Snippet returns the sanitised outer HTML of n cut to at most max bytes on
// a rune boundary. A non-positive max uses DefaultSnippetLen.
func Snippet(n *html.Node, max int) string {
	if max <= 0 {
		max = DefaultSnippetLen
	}
	s := snippetPolicy.Sanitize(dom.OuterHTML(n))
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// locate returns the XPath of the event node. A removed node is detached, so
// its path is rebuilt under the record target it was removed from.
func locate(ev elobs.Event) string {
	n := ev.Node
	if ev.Kind != elobs.Removed || ev.Record == nil || attached(n) {
		return mirror.XPath(n)
	}
	base := mirror.XPath(ev.Record.Target)
	if base == "/" {
		base = ""
	}
	return base + mirror.XPath(n)
}

func attached(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type == html.DocumentNode {
			return true
		}
	}
	return false
}
