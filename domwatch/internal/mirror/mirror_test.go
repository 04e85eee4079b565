package mirror

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/dom"
	"github.com/hazyhaar/vitrine/loop"
)

func el(id proto.DOMNodeID, tag string, attrs []string, kids ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: elementNode, NodeName: strings.ToUpper(tag), Attributes: attrs, Children: kids}
}

func text(id proto.DOMNodeID, s string) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: textNode, NodeName: "#text", NodeValue: s}
}

// page is document(1) > html(2) > [head(3), body(4) > [ul(5) > [li(6), li(7)], p(8) > "hi"(9)]]
func page() *proto.DOMNode {
	return &proto.DOMNode{NodeID: 1, NodeType: documentNode, NodeName: "#document", Children: []*proto.DOMNode{
		{NodeID: 10, NodeType: doctypeNode, NodeName: "html"},
		el(2, "html", nil,
			el(3, "head", nil),
			el(4, "body", nil,
				el(5, "ul", []string{"class", "list"},
					el(6, "li", nil), el(7, "li", []string{"id", "last"})),
				el(8, "p", nil, text(9, "hi")))),
	}}
}

func newMirror(t *testing.T) (*loop.Loop, *Mirror) {
	t.Helper()
	l := loop.New()
	m := New(dom.New(l))
	if err := m.Build(page()); err != nil {
		t.Fatal(err)
	}
	return l, m
}

func render(t *testing.T, m *Mirror) string {
	t.Helper()
	var b strings.Builder
	if err := m.Document().Render(&b); err != nil {
		t.Fatal(err)
	}
	return b.String()
}

func TestBuild(t *testing.T) {
	_, m := newMirror(t)
	got := render(t, m)
	want := `<!DOCTYPE html><html><head></head><body><ul class="list"><li></li><li id="last"></li></ul><p>hi</p></body></html>`
	if got != want {
		t.Errorf("render:\n got %s\nwant %s", got, want)
	}
	if m.Len() != 10 {
		t.Errorf("Len: got %d, want 10", m.Len())
	}
	if id, ok := m.ID(m.Node(7)); !ok || id != 7 {
		t.Errorf("ID(Node(7)): got %d %v", id, ok)
	}
}

func TestBuild_RejectsNonDocument(t *testing.T) {
	m := New(dom.New(loop.New()))
	if err := m.Build(el(1, "div", nil)); !errors.Is(err, ErrNotDocument) {
		t.Fatalf("Build: got %v", err)
	}
}

func TestInsert(t *testing.T) {
	_, m := newMirror(t)

	if err := m.Insert(5, 0, el(20, "li", []string{"class", "first"})); err != nil {
		t.Fatal(err)
	}
	if err := m.Insert(5, 6, el(21, "li", nil, text(22, "mid"))); err != nil {
		t.Fatal(err)
	}
	ul := m.Node(5)
	var ids []string
	for c := ul.FirstChild; c != nil; c = c.NextSibling {
		id, _ := m.ID(c)
		ids = append(ids, strconv.Itoa(int(id)))
	}
	if got := strings.Join(ids, ","); got != "20,6,21,7" {
		t.Errorf("children: %s", got)
	}
	if m.Node(22) == nil {
		t.Error("nested child of inserted node not mapped")
	}
}

func TestInsert_UnknownParent(t *testing.T) {
	_, m := newMirror(t)
	if err := m.Insert(99, 0, el(20, "li", nil)); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("Insert: got %v", err)
	}
	if err := m.Insert(5, 8, el(20, "li", nil)); !errors.Is(err, dom.ErrNotChild) {
		t.Fatalf("Insert after non-sibling: got %v", err)
	}
}

func TestRemove_ForgetsSubtree(t *testing.T) {
	_, m := newMirror(t)
	if err := m.Remove(4, 5); err != nil {
		t.Fatal(err)
	}
	for _, id := range []proto.DOMNodeID{5, 6, 7} {
		if m.Node(id) != nil {
			t.Errorf("node %d still mapped", id)
		}
	}
	if err := m.SetAttr(6, "x", "y"); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("SetAttr on removed: got %v", err)
	}
}

func TestSetChildren(t *testing.T) {
	_, m := newMirror(t)
	if err := m.SetChildren(5, []*proto.DOMNode{el(30, "li", nil)}); err != nil {
		t.Fatal(err)
	}
	if m.Node(6) != nil || m.Node(30) == nil {
		t.Fatal("children not replaced")
	}
	if m.Node(30).Parent != m.Node(5) {
		t.Error("new child not under parent")
	}
}

func TestAttributesAndText(t *testing.T) {
	l, m := newMirror(t)
	var recs []dom.Record
	obs := m.Document().NewObserver(func(rs []dom.Record) { recs = append(recs, rs...) })
	obs.Observe(m.Document().Root(), dom.Options{Attributes: true, CharacterData: true, Subtree: true})

	if err := m.SetAttr(5, "class", "list open"); err != nil {
		t.Fatal(err)
	}
	if err := m.RemoveAttr(7, "id"); err != nil {
		t.Fatal(err)
	}
	if err := m.SetText(9, "bye"); err != nil {
		t.Fatal(err)
	}
	l.RunPending()

	if len(recs) != 3 {
		t.Fatalf("records: got %d, want 3", len(recs))
	}
	if recs[0].AttrName != "class" || recs[0].OldValue != "list" {
		t.Errorf("attr record: %+v", recs[0])
	}
	if m.Node(9).Data != "bye" {
		t.Errorf("text: %q", m.Node(9).Data)
	}
}

func TestShadowRoot(t *testing.T) {
	m := New(dom.New(loop.New()))
	host := el(3, "x-card", nil)
	host.ShadowRoots = []*proto.DOMNode{{NodeID: 4, NodeType: fragmentNode, NodeName: "#document-fragment",
		Children: []*proto.DOMNode{el(5, "span", nil)}}}
	root := &proto.DOMNode{NodeID: 1, NodeType: documentNode, Children: []*proto.DOMNode{
		el(2, "html", nil, el(6, "body", nil, host)),
	}}
	if err := m.Build(root); err != nil {
		t.Fatal(err)
	}
	if got := XPath(m.Node(5)); got != "/html/body/x-card/shadow-root/span" {
		t.Errorf("XPath: %s", got)
	}
}

func TestXPath(t *testing.T) {
	_, m := newMirror(t)
	cases := map[proto.DOMNodeID]string{
		2: "/html",
		4: "/html/body",
		6: "/html/body/ul/li[1]",
		7: "/html/body/ul/li[2]",
		9: "/html/body/p/text()",
	}
	for id, want := range cases {
		if got := XPath(m.Node(id)); got != want {
			t.Errorf("XPath(%d): got %s, want %s", id, got, want)
		}
	}
	if got := XPath(m.Document().Root()); got != "/" {
		t.Errorf("XPath(document): %s", got)
	}
	if got := XPath(&html.Node{Type: html.ElementNode, Data: "div"}); got != "/div" {
		t.Errorf("XPath(detached): %s", got)
	}
}

func TestIncomplete(t *testing.T) {
	n := 2
	if !Incomplete(&proto.DOMNode{ChildNodeCount: &n}) {
		t.Error("want incomplete")
	}
	if Incomplete(el(1, "div", nil, text(2, "x"))) {
		t.Error("complete node reported incomplete")
	}
}
