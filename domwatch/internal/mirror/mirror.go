// Package mirror keeps a dom.Document in step with a browser page by
// applying CDP DOM domain events to it.
//
// The mirror only understands proto types, so it runs against recorded or
// hand-built events as easily as against a live page. Every method mutates
// the document and must run on the document's loop.
package mirror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/vitrine/dom"
)

var (
	ErrUnknownNode = errors.New("mirror: unknown node id")
	ErrNotDocument = errors.New("mirror: root is not a document node")
)

// CDP node types.
const (
	elementNode  = 1
	textNode     = 3
	cdataNode    = 4
	commentNode  = 8
	documentNode = 9
	doctypeNode  = 10
	fragmentNode = 11
)

// Mirror maps CDP node ids onto nodes of a dom.Document.
type Mirror struct {
	doc   *dom.Document
	nodes map[proto.DOMNodeID]*html.Node
	ids   map[*html.Node]proto.DOMNodeID
}

// New returns an empty mirror writing into doc.
func New(doc *dom.Document) *Mirror {
	return &Mirror{
		doc:   doc,
		nodes: make(map[proto.DOMNodeID]*html.Node),
		ids:   make(map[*html.Node]proto.DOMNodeID),
	}
}

// Document returns the mirrored document.
func (m *Mirror) Document() *dom.Document { return m.doc }

// Len returns the number of mapped nodes.
func (m *Mirror) Len() int { return len(m.nodes) }

// Node returns the node mapped to id, or nil.
func (m *Mirror) Node(id proto.DOMNodeID) *html.Node { return m.nodes[id] }

// ID returns the CDP id of n.
func (m *Mirror) ID(n *html.Node) (proto.DOMNodeID, bool) {
	id, ok := m.ids[n]
	return id, ok
}

// Build replaces the whole document with the tree returned by
// DOM.getDocument. Previously mapped ids are forgotten.
func (m *Mirror) Build(root *proto.DOMNode) error {
	if root == nil || root.NodeType != documentNode {
		return ErrNotDocument
	}
	clear(m.nodes)
	clear(m.ids)

	docRoot := m.doc.Root()
	m.bind(root.NodeID, docRoot)
	kids := m.convertAll(root.Children)
	if err := m.doc.ReplaceChildren(docRoot, kids...); err != nil {
		return fmt.Errorf("mirror: build: %w", err)
	}
	return nil
}

// Insert applies DOM.childNodeInserted. A zero prevID inserts node as the
// first child of the parent.
func (m *Mirror) Insert(parentID, prevID proto.DOMNodeID, node *proto.DOMNode) error {
	parent, err := m.lookup(parentID)
	if err != nil {
		return fmt.Errorf("mirror: insert: %w", err)
	}
	ref := parent.FirstChild
	if prevID != 0 {
		prev, err := m.lookup(prevID)
		if err != nil {
			return fmt.Errorf("mirror: insert after: %w", err)
		}
		if prev.Parent != parent {
			return fmt.Errorf("mirror: insert after %d: %w", prevID, dom.ErrNotChild)
		}
		ref = prev.NextSibling
	}
	if old := m.nodes[node.NodeID]; old != nil {
		m.forget(old)
	}
	n := m.convert(node)
	if err := m.doc.InsertBefore(parent, n, ref); err != nil {
		return fmt.Errorf("mirror: insert: %w", err)
	}
	return nil
}

// Remove applies DOM.childNodeRemoved.
func (m *Mirror) Remove(parentID, nodeID proto.DOMNodeID) error {
	n, err := m.lookup(nodeID)
	if err != nil {
		return fmt.Errorf("mirror: remove: %w", err)
	}
	if p := m.nodes[parentID]; p != nil && n.Parent != p {
		return fmt.Errorf("mirror: remove %d: %w", nodeID, dom.ErrNotChild)
	}
	if err := m.doc.Remove(n); err != nil {
		return fmt.Errorf("mirror: remove: %w", err)
	}
	m.forget(n)
	return nil
}

// SetChildren applies DOM.setChildNodes, replacing every child of parentID.
func (m *Mirror) SetChildren(parentID proto.DOMNodeID, nodes []*proto.DOMNode) error {
	parent, err := m.lookup(parentID)
	if err != nil {
		return fmt.Errorf("mirror: set children: %w", err)
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		m.forget(c)
	}
	if err := m.doc.ReplaceChildren(parent, m.convertAll(nodes)...); err != nil {
		return fmt.Errorf("mirror: set children: %w", err)
	}
	return nil
}

// SetAttr applies DOM.attributeModified.
func (m *Mirror) SetAttr(id proto.DOMNodeID, name, value string) error {
	n, err := m.lookup(id)
	if err != nil {
		return fmt.Errorf("mirror: set attr: %w", err)
	}
	return m.doc.SetAttr(n, name, value)
}

// RemoveAttr applies DOM.attributeRemoved.
func (m *Mirror) RemoveAttr(id proto.DOMNodeID, name string) error {
	n, err := m.lookup(id)
	if err != nil {
		return fmt.Errorf("mirror: remove attr: %w", err)
	}
	return m.doc.RemoveAttr(n, name)
}

// SetText applies DOM.characterDataModified.
func (m *Mirror) SetText(id proto.DOMNodeID, data string) error {
	n, err := m.lookup(id)
	if err != nil {
		return fmt.Errorf("mirror: set text: %w", err)
	}
	return m.doc.SetText(n, data)
}

// Incomplete reports whether node was sent without its children, which then
// arrive in a later setChildNodes.
func Incomplete(node *proto.DOMNode) bool {
	return node.ChildNodeCount != nil && *node.ChildNodeCount > 0 && len(node.Children) == 0
}

func (m *Mirror) lookup(id proto.DOMNodeID) (*html.Node, error) {
	n := m.nodes[id]
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return n, nil
}

func (m *Mirror) bind(id proto.DOMNodeID, n *html.Node) {
	m.nodes[id] = n
	m.ids[n] = id
}

func (m *Mirror) forget(n *html.Node) {
	dom.Walk(n, func(c *html.Node) bool {
		if id, ok := m.ids[c]; ok {
			delete(m.ids, c)
			delete(m.nodes, id)
		}
		return true
	})
}

func (m *Mirror) convertAll(nodes []*proto.DOMNode) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, c := range nodes {
		out = append(out, m.convert(c))
	}
	return out
}

// convert builds a detached subtree for node. Shadow roots become
// <template shadowrootmode> children, the declarative serialisation.
func (m *Mirror) convert(node *proto.DOMNode) *html.Node {
	var n *html.Node
	switch node.NodeType {
	case elementNode:
		tag := strings.ToLower(node.NodeName)
		n = &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
		for i := 0; i+1 < len(node.Attributes); i += 2 {
			n.Attr = append(n.Attr, html.Attribute{Key: node.Attributes[i], Val: node.Attributes[i+1]})
		}
	case textNode, cdataNode:
		n = &html.Node{Type: html.TextNode, Data: node.NodeValue}
	case doctypeNode:
		n = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(node.NodeName)}
	case fragmentNode:
		n = &html.Node{
			Type: html.ElementNode, Data: "template", DataAtom: atom.Template,
			Attr: []html.Attribute{{Key: "shadowrootmode", Val: "open"}},
		}
	default:
		n = &html.Node{Type: html.CommentNode, Data: node.NodeValue}
	}
	m.bind(node.NodeID, n)

	for _, sr := range node.ShadowRoots {
		n.AppendChild(m.convert(sr))
	}
	for _, c := range node.Children {
		n.AppendChild(m.convert(c))
	}
	return n
}
