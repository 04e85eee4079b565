package pagewatch

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/domwatch/mutation"
)

func parseBody(t *testing.T, markup string) *html.Node {
	t.Helper()
	nodes, err := html.ParseFragment(strings.NewReader(markup), &html.Node{Type: html.ElementNode, Data: "body"})
	if err != nil {
		t.Fatal(err)
	}
	return nodes[0]
}

func TestSnippet_Sanitises(t *testing.T) {
	n := parseBody(t, `<div onclick="steal()"><script>alert(1)</script><b>deal</b></div>`)
	got := Snippet(n, 0)
	if strings.Contains(got, "script") || strings.Contains(got, "onclick") {
		t.Errorf("unsanitised: %s", got)
	}
	if !strings.Contains(got, "<b>deal</b>") {
		t.Errorf("content lost: %s", got)
	}
}

func TestSnippet_TruncatesOnRuneBoundary(t *testing.T) {
	n := parseBody(t, `<p>éééééééééé</p>`)
	got := Snippet(n, 6)
	if !utf8.ValidString(got) || len(got) > 6 {
		t.Errorf("snippet %q", got)
	}
}

func TestCompress_ChangedRuns(t *testing.T) {
	evs := []mutation.Event{
		{Kind: mutation.KindChanged, Rule: "p", XPath: "/a", Attr: "v", OldValue: "1"},
		{Kind: mutation.KindChanged, Rule: "p", XPath: "/a", Attr: "v", OldValue: "2"},
		{Kind: mutation.KindChanged, Rule: "p", XPath: "/a", Attr: "v", OldValue: "3"},
	}
	got := compress(evs)
	if len(got) != 1 || got[0].OldValue != "1" || got[0].Count != 3 {
		t.Fatalf("compress: %+v", got)
	}
}

func TestCompress_StructuralKept(t *testing.T) {
	evs := []mutation.Event{
		{Kind: mutation.KindCreated, Rule: "r", XPath: "/a"},
		{Kind: mutation.KindCreated, Rule: "r", XPath: "/a"},
		{Kind: mutation.KindRemoved, Rule: "r", XPath: "/a"},
	}
	if got := compress(evs); len(got) != 3 {
		t.Fatalf("compress: got %d, want 3", len(got))
	}
}

func TestCompress_Mixed(t *testing.T) {
	evs := []mutation.Event{
		{Kind: mutation.KindChanged, Rule: "p", XPath: "/a"},
		{Kind: mutation.KindChanged, Rule: "q", XPath: "/a"},
		{Kind: mutation.KindChanged, Rule: "q", XPath: "/a"},
		{Kind: mutation.KindCreated, Rule: "r", XPath: "/b"},
		{Kind: mutation.KindChanged, Rule: "q", XPath: "/a"},
	}
	got := compress(evs)
	if len(got) != 4 {
		t.Fatalf("compress: got %d, want 4", len(got))
	}
	if got[0].Count != 0 || got[1].Count != 2 || got[3].Count != 0 {
		t.Errorf("counts: %d %d %d", got[0].Count, got[1].Count, got[3].Count)
	}
}

func TestCompress_Empty(t *testing.T) {
	if got := compress(nil); got != nil {
		t.Errorf("compress(nil): %v", got)
	}
}
