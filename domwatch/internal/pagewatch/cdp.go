package pagewatch

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/vitrine/domwatch/internal/mirror"
)

// Attach loads the document of page and keeps the mirror in step with its
// DOM events until ctx is done. It blocks.
func (p *Page) Attach(ctx context.Context, page *rod.Page) error {
	page = page.Context(ctx)
	if err := (proto.DOMEnable{}).Call(page); err != nil {
		return fmt.Errorf("pagewatch: DOM.enable: %w", err)
	}
	root, err := getDocument(page)
	if err != nil {
		return err
	}
	p.Reset(root)

	wait := page.EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			node := e.Node
			p.Apply(func(m *mirror.Mirror) error { return m.Insert(e.ParentNodeID, e.PreviousNodeID, node) })
			if mirror.Incomplete(node) {
				go p.requestChildren(page, node.NodeID)
			}
		},
		func(e *proto.DOMChildNodeRemoved) {
			p.Apply(func(m *mirror.Mirror) error { return m.Remove(e.ParentNodeID, e.NodeID) })
		},
		func(e *proto.DOMSetChildNodes) {
			p.Apply(func(m *mirror.Mirror) error { return m.SetChildren(e.ParentID, e.Nodes) })
		},
		func(e *proto.DOMAttributeModified) {
			p.Apply(func(m *mirror.Mirror) error { return m.SetAttr(e.NodeID, e.Name, e.Value) })
		},
		func(e *proto.DOMAttributeRemoved) {
			p.Apply(func(m *mirror.Mirror) error { return m.RemoveAttr(e.NodeID, e.Name) })
		},
		func(e *proto.DOMCharacterDataModified) {
			p.Apply(func(m *mirror.Mirror) error { return m.SetText(e.NodeID, e.CharacterData) })
		},
		func(e *proto.DOMDocumentUpdated) {
			go p.reload(page)
		},
	)
	wait()
	return nil
}

func (p *Page) reload(page *rod.Page) {
	root, err := getDocument(page)
	if err != nil {
		p.logger.Error("pagewatch: reload document", "error", err)
		return
	}
	p.logger.Info("pagewatch: document updated")
	p.Reset(root)
}

func (p *Page) requestChildren(page *rod.Page, id proto.DOMNodeID) {
	depth := -1
	err := proto.DOMRequestChildNodes{NodeID: id, Depth: &depth, Pierce: true}.Call(page)
	if err != nil {
		p.logger.Debug("pagewatch: request child nodes", "node", id, "error", err)
	}
}

// getDocument fetches the full tree, piercing shadow roots and frames. Deep
// nodes only report mutations once the agent has sent them.
func getDocument(page *rod.Page) (*proto.DOMNode, error) {
	depth := -1
	res, err := proto.DOMGetDocument{Depth: &depth, Pierce: true}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("pagewatch: DOM.getDocument: %w", err)
	}
	return res.Root, nil
}
