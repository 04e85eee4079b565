package dom

import (
	"errors"
	"slices"

	"golang.org/x/net/html"
)

// ErrNoRecordTypes is returned by Observe when Options selects nothing.
var ErrNoRecordTypes = errors.New("dom: observe needs at least one of ChildList, Attributes, CharacterData")

// Options selects which records an observation receives.
type Options struct {
	ChildList     bool
	Attributes    bool
	CharacterData bool
	// Subtree extends the observation to every descendant of the target.
	Subtree bool
	// AttributeFilter restricts attribute records to these names. Empty
	// means all attributes.
	AttributeFilter []string
}

// Observer receives batches of records for the nodes it observes.
type Observer struct {
	doc       *Document
	fn        func([]Record)
	targets   []observation
	queue     []Record
	scheduled bool
}

type observation struct {
	node *html.Node
	opts Options
}

// NewObserver creates an observer that calls fn with each delivered batch.
// It observes nothing until Observe is called.
func (d *Document) NewObserver(fn func([]Record)) *Observer {
	return &Observer{doc: d, fn: fn}
}

// Observe starts (or reconfigures) observation of target.
func (o *Observer) Observe(target *html.Node, opts Options) error {
	if target == nil {
		return ErrNilNode
	}
	if !opts.ChildList && !opts.Attributes && !opts.CharacterData {
		return ErrNoRecordTypes
	}
	for i := range o.targets {
		if o.targets[i].node == target {
			o.targets[i].opts = opts
			return nil
		}
	}
	if len(o.targets) == 0 {
		o.doc.observers = append(o.doc.observers, o)
	}
	o.targets = append(o.targets, observation{node: target, opts: opts})
	return nil
}

// Disconnect stops all observation and discards queued records.
func (o *Observer) Disconnect() {
	o.targets = nil
	o.queue = nil
	o.doc.observers = slices.DeleteFunc(o.doc.observers, func(x *Observer) bool { return x == o })
}

// TakeRecords returns and clears the records queued but not yet delivered.
func (o *Observer) TakeRecords() []Record {
	q := o.queue
	o.queue = nil
	return q
}

func (o *Observer) wants(r Record) bool {
	for _, t := range o.targets {
		if t.node != r.Target && !(t.opts.Subtree && Contains(t.node, r.Target)) {
			continue
		}
		switch r.Type {
		case ChildList:
			if t.opts.ChildList {
				return true
			}
		case Attributes:
			if t.opts.Attributes &&
				(len(t.opts.AttributeFilter) == 0 || slices.Contains(t.opts.AttributeFilter, r.AttrName)) {
				return true
			}
		case CharacterData:
			if t.opts.CharacterData {
				return true
			}
		}
	}
	return false
}

func (o *Observer) enqueue(r Record) {
	o.queue = append(o.queue, r)
	if o.scheduled || o.doc.loop == nil {
		return
	}
	o.scheduled = true
	o.doc.loop.Post(o.deliver)
}

func (o *Observer) deliver() {
	o.scheduled = false
	recs := o.TakeRecords()
	if len(recs) == 0 || o.fn == nil {
		return
	}
	o.fn(recs)
}

func (d *Document) notify(r Record) {
	if len(d.observers) == 0 {
		return
	}
	for _, o := range d.observers {
		if o.wants(r) {
			o.enqueue(r)
		}
	}
}
