// Package dom provides a mutable HTML node tree that reports its own
// structural and attribute changes.
//
// Nodes are plain *html.Node values from golang.org/x/net/html. All
// mutations go through a Document so it can tell its observers what
// changed. Change records produced while one task runs are delivered to
// each observer together, as one batch, in a later macrotask of the
// document's loop.
//
// A Document is not safe for concurrent use. Mutate it from tasks running
// on its loop.
package dom

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/vitrine/loop"
)

var (
	ErrNilNode    = errors.New("dom: nil node")
	ErrHierarchy  = errors.New("dom: node cannot be inserted under itself or a descendant")
	ErrNotChild   = errors.New("dom: node is not a child of the given parent")
	ErrNotElement = errors.New("dom: node is not an element")
	ErrNotText    = errors.New("dom: node is not a text or comment node")
)

const emptyMarkup = "<html><head></head><body></body></html>"

// Document owns a node tree and the observers watching it.
type Document struct {
	loop      *loop.Loop
	root      *html.Node
	observers []*Observer
}

// New creates a document holding an empty html/head/body skeleton.
func New(l *loop.Loop) *Document {
	d, err := Parse(l, strings.NewReader(emptyMarkup))
	if err != nil {
		// html.Parse only fails on reader errors.
		panic(err)
	}
	return d
}

// Parse builds a document from HTML markup.
func Parse(l *loop.Loop, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{loop: l, root: root}, nil
}

// Loop returns the loop that delivers change batches.
func (d *Document) Loop() *loop.Loop { return d.loop }

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the <body> element, or nil if the tree has none.
func (d *Document) Body() *html.Node { return findFirst(d.root, atom.Body) }

// Head returns the <head> element, or nil if the tree has none.
func (d *Document) Head() *html.Node { return findFirst(d.root, atom.Head) }

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// CreateElement returns a detached element node.
func (d *Document) CreateElement(tag string, attrs ...html.Attribute) *html.Node {
	tag = strings.ToLower(tag)
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

// CreateText returns a detached text node.
func (d *Document) CreateText(text string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: text}
}

// ParseFragment parses markup as the content of ctx (body when nil) and
// returns the detached top-level nodes.
func (d *Document) ParseFragment(ctx *html.Node, markup string) ([]*html.Node, error) {
	if ctx == nil {
		ctx = d.Body()
	}
	if ctx == nil {
		ctx = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	return nodes, nil
}

// AppendChild appends child to parent, detaching it from its current
// parent first.
func (d *Document) AppendChild(parent, child *html.Node) error {
	if err := checkInsert(parent, child); err != nil {
		return err
	}
	if child.Parent != nil {
		d.detach(child)
	}
	prev := parent.LastChild
	parent.AppendChild(child)
	d.notify(Record{
		Type:            ChildList,
		Target:          parent,
		Added:           []*html.Node{child},
		PreviousSibling: prev,
	})
	return nil
}

// InsertBefore inserts child into parent before ref. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *html.Node) error {
	if ref == nil {
		return d.AppendChild(parent, child)
	}
	if err := checkInsert(parent, child); err != nil {
		return err
	}
	if ref.Parent != parent {
		return ErrNotChild
	}
	if child == ref {
		return nil
	}
	if child.Parent != nil {
		d.detach(child)
	}
	parent.InsertBefore(child, ref)
	d.notify(Record{
		Type:            ChildList,
		Target:          parent,
		Added:           []*html.Node{child},
		PreviousSibling: child.PrevSibling,
		NextSibling:     ref,
	})
	return nil
}

// RemoveChild detaches child from parent. The detached node keeps its own
// subtree.
func (d *Document) RemoveChild(parent, child *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	if child.Parent != parent {
		return ErrNotChild
	}
	d.detach(child)
	return nil
}

// Remove detaches n from its parent, if it has one.
func (d *Document) Remove(n *html.Node) error {
	if n == nil {
		return ErrNilNode
	}
	if n.Parent == nil {
		return nil
	}
	d.detach(n)
	return nil
}

// ReplaceChildren swaps all children of parent for nodes, reported as a
// single record.
func (d *Document) ReplaceChildren(parent *html.Node, nodes ...*html.Node) error {
	if parent == nil {
		return ErrNilNode
	}
	for _, n := range nodes {
		if err := checkInsert(parent, n); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		if n.Parent != nil {
			d.detach(n)
		}
	}

	var removed []*html.Node
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		removed = append(removed, c)
		c = next
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}

	if len(removed) == 0 && len(nodes) == 0 {
		return nil
	}
	d.notify(Record{
		Type:    ChildList,
		Target:  parent,
		Added:   append([]*html.Node(nil), nodes...),
		Removed: removed,
	})
	return nil
}

// SetAttr sets an attribute on an element.
func (d *Document) SetAttr(n *html.Node, key, val string) error {
	if n == nil {
		return ErrNilNode
	}
	if n.Type != html.ElementNode {
		return ErrNotElement
	}
	old := ""
	found := false
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			old = n.Attr[i].Val
			n.Attr[i].Val = val
			found = true
			break
		}
	}
	if !found {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	d.notify(Record{Type: Attributes, Target: n, AttrName: key, OldValue: old})
	return nil
}

// RemoveAttr removes an attribute from an element. Removing an absent
// attribute records nothing.
func (d *Document) RemoveAttr(n *html.Node, key string) error {
	if n == nil {
		return ErrNilNode
	}
	if n.Type != html.ElementNode {
		return ErrNotElement
	}
	for i := range n.Attr {
		if n.Attr[i].Key == key && n.Attr[i].Namespace == "" {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.notify(Record{Type: Attributes, Target: n, AttrName: key, OldValue: old})
			return nil
		}
	}
	return nil
}

// SetText replaces the data of a text or comment node.
func (d *Document) SetText(n *html.Node, text string) error {
	if n == nil {
		return ErrNilNode
	}
	if n.Type != html.TextNode && n.Type != html.CommentNode {
		return ErrNotText
	}
	old := n.Data
	n.Data = text
	d.notify(Record{Type: CharacterData, Target: n, OldValue: old})
	return nil
}

func (d *Document) detach(child *html.Node) {
	parent := child.Parent
	prev, next := child.PrevSibling, child.NextSibling
	parent.RemoveChild(child)
	d.notify(Record{
		Type:            ChildList,
		Target:          parent,
		Removed:         []*html.Node{child},
		PreviousSibling: prev,
		NextSibling:     next,
	})
}

func checkInsert(parent, child *html.Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}
	if child.Type == html.DocumentNode || Contains(child, parent) {
		return ErrHierarchy
	}
	return nil
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}
