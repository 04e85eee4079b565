package dom

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/hazyhaar/vitrine/loop"
)

func newTestDoc(t *testing.T, markup string) (*Document, *loop.Loop) {
	t.Helper()
	l := loop.New()
	d, err := Parse(l, strings.NewReader(markup))
	if err != nil {
		t.Fatal(err)
	}
	return d, l
}

func byID(d *Document, id string) *html.Node {
	var found *html.Node
	Walk(d.Root(), func(n *html.Node) bool {
		if v, ok := Attr(n, "id"); ok && v == id {
			found = n
			return false
		}
		return found == nil
	})
	return found
}

func TestNew_Skeleton(t *testing.T) {
	d := New(loop.New())
	if d.Body() == nil || d.Head() == nil {
		t.Fatal("New: missing head or body")
	}
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(b.String(), "<body></body>") {
		t.Errorf("Render: got %s", b.String())
	}
}

func TestObserver_BatchesRecordsPerTask(t *testing.T) {
	d, l := newTestDoc(t, `<html><body><div id="root"></div></body></html>`)
	root := byID(d, "root")

	var batches [][]Record
	obs := d.NewObserver(func(recs []Record) { batches = append(batches, recs) })
	if err := obs.Observe(d.Root(), Options{ChildList: true, Attributes: true, Subtree: true}); err != nil {
		t.Fatal(err)
	}

	l.Post(func() {
		a := d.CreateElement("span")
		d.AppendChild(root, a)
		d.SetAttr(a, "class", "x")
	})
	l.RunPending()

	if len(batches) != 1 {
		t.Fatalf("batches: got %d, want 1", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("records: got %d, want 2", len(batches[0]))
	}
	if batches[0][0].Type != ChildList || batches[0][1].Type != Attributes {
		t.Errorf("types: got %s,%s", batches[0][0].Type, batches[0][1].Type)
	}
}

func TestAppendChild_MoveEmitsRemoveThenAdd(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a"><p id="p"></p></div><div id="b"></div></body></html>`)
	a, b, p := byID(d, "a"), byID(d, "b"), byID(d, "p")

	obs := d.NewObserver(nil)
	obs.Observe(d.Root(), Options{ChildList: true, Subtree: true})

	if err := d.AppendChild(b, p); err != nil {
		t.Fatal(err)
	}
	recs := obs.TakeRecords()
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if recs[0].Target != a || len(recs[0].Removed) != 1 || recs[0].Removed[0] != p {
		t.Errorf("record 0: want removal of p from a")
	}
	if recs[1].Target != b || len(recs[1].Added) != 1 || recs[1].Added[0] != p {
		t.Errorf("record 1: want insertion of p into b")
	}
	if p.Parent != b {
		t.Error("p not moved under b")
	}
}

func TestAppendChild_Hierarchy(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a"><p id="p"></p></div></body></html>`)
	a, p := byID(d, "a"), byID(d, "p")

	if err := d.AppendChild(p, a); !errors.Is(err, ErrHierarchy) {
		t.Errorf("AppendChild(p, a): got %v, want ErrHierarchy", err)
	}
	if err := d.AppendChild(a, a); !errors.Is(err, ErrHierarchy) {
		t.Errorf("AppendChild(a, a): got %v, want ErrHierarchy", err)
	}
	if err := d.AppendChild(nil, a); !errors.Is(err, ErrNilNode) {
		t.Errorf("AppendChild(nil, a): got %v, want ErrNilNode", err)
	}
}

func TestInsertBefore(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><ul id="l"><li id="one"></li><li id="three"></li></ul></body></html>`)
	l, three := byID(d, "l"), byID(d, "three")
	two := d.CreateElement("li", html.Attribute{Key: "id", Val: "two"})

	if err := d.InsertBefore(l, two, three); err != nil {
		t.Fatal(err)
	}
	if two.NextSibling != three || two.PrevSibling != byID(d, "one") {
		t.Error("InsertBefore: wrong position")
	}
	if err := d.InsertBefore(l, d.CreateElement("li"), byID(d, "l")); !errors.Is(err, ErrNotChild) {
		t.Errorf("InsertBefore with foreign ref: got %v, want ErrNotChild", err)
	}
}

func TestRemoveChild_KeepsSubtree(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a"><p id="p"><b id="deep"></b></p></div></body></html>`)
	a, p := byID(d, "a"), byID(d, "p")

	obs := d.NewObserver(nil)
	obs.Observe(d.Body(), Options{ChildList: true, Subtree: true})

	if err := d.RemoveChild(a, p); err != nil {
		t.Fatal(err)
	}
	if p.FirstChild == nil || p.FirstChild.Data != "b" {
		t.Error("removed node lost its subtree")
	}
	recs := obs.TakeRecords()
	if len(recs) != 1 || recs[0].Removed[0] != p {
		t.Fatalf("records: got %+v", recs)
	}
	if err := d.RemoveChild(a, p); !errors.Is(err, ErrNotChild) {
		t.Errorf("second RemoveChild: got %v, want ErrNotChild", err)
	}
}

func TestReplaceChildren_SingleRecord(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a"><i></i><i></i></div></body></html>`)
	a := byID(d, "a")

	obs := d.NewObserver(nil)
	obs.Observe(a, Options{ChildList: true})

	n := d.CreateElement("b")
	if err := d.ReplaceChildren(a, n); err != nil {
		t.Fatal(err)
	}
	recs := obs.TakeRecords()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if len(recs[0].Removed) != 2 || len(recs[0].Added) != 1 {
		t.Errorf("record: removed=%d added=%d", len(recs[0].Removed), len(recs[0].Added))
	}
}

func TestSetAttr_OldValueAndFilter(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a" class="x"></div></body></html>`)
	a := byID(d, "a")

	all := d.NewObserver(nil)
	all.Observe(a, Options{Attributes: true})
	filtered := d.NewObserver(nil)
	filtered.Observe(a, Options{Attributes: true, AttributeFilter: []string{"data-x"}})

	d.SetAttr(a, "class", "y")
	d.RemoveAttr(a, "missing")

	recs := all.TakeRecords()
	if len(recs) != 1 {
		t.Fatalf("records: got %d, want 1", len(recs))
	}
	if recs[0].AttrName != "class" || recs[0].OldValue != "x" {
		t.Errorf("record: got name=%q old=%q", recs[0].AttrName, recs[0].OldValue)
	}
	if got := filtered.TakeRecords(); len(got) != 0 {
		t.Errorf("filtered observer: got %d records, want 0", len(got))
	}
	if v, _ := Attr(a, "class"); v != "y" {
		t.Errorf("class: got %q, want y", v)
	}
}

func TestSetText(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><p id="p">hello</p></body></html>`)
	p := byID(d, "p")

	obs := d.NewObserver(nil)
	obs.Observe(p, Options{CharacterData: true, Subtree: true})

	if err := d.SetText(p.FirstChild, "world"); err != nil {
		t.Fatal(err)
	}
	if err := d.SetText(p, "nope"); !errors.Is(err, ErrNotText) {
		t.Errorf("SetText on element: got %v, want ErrNotText", err)
	}
	recs := obs.TakeRecords()
	if len(recs) != 1 || recs[0].OldValue != "hello" {
		t.Fatalf("records: got %+v", recs)
	}
}

func TestObserve_NoTypes(t *testing.T) {
	d := New(loop.New())
	obs := d.NewObserver(nil)
	if err := obs.Observe(d.Root(), Options{Subtree: true}); !errors.Is(err, ErrNoRecordTypes) {
		t.Errorf("Observe: got %v, want ErrNoRecordTypes", err)
	}
}

func TestObserver_OutsideTargetIgnored(t *testing.T) {
	d, _ := newTestDoc(t, `<html><body><div id="a"></div><div id="b"></div></body></html>`)
	obs := d.NewObserver(nil)
	obs.Observe(byID(d, "a"), Options{ChildList: true, Subtree: true})

	d.AppendChild(byID(d, "b"), d.CreateElement("span"))
	if got := obs.TakeRecords(); len(got) != 0 {
		t.Errorf("records outside target: got %d, want 0", len(got))
	}
}

func TestDisconnect(t *testing.T) {
	d, l := newTestDoc(t, `<html><body></body></html>`)
	called := false
	obs := d.NewObserver(func([]Record) { called = true })
	obs.Observe(d.Root(), Options{ChildList: true, Subtree: true})

	d.AppendChild(d.Body(), d.CreateElement("div"))
	obs.Disconnect()
	l.RunPending()

	if called {
		t.Error("disconnected observer received a batch")
	}
}

func TestParseFragment(t *testing.T) {
	d := New(loop.New())
	nodes, err := d.ParseFragment(nil, `<div class="card"><img src="a.png"></div><p>x</p>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes: got %d, want 2", len(nodes))
	}
	for _, n := range nodes {
		if n.Parent != nil {
			t.Error("fragment node still attached")
		}
	}
	if got := OuterHTML(nodes[0]); got != `<div class="card"><img src="a.png"/></div>` {
		t.Errorf("OuterHTML: got %s", got)
	}
}
