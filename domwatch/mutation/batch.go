// Package mutation defines the records domwatch emits. Consumers import it to
// decode what the sinks deliver.
package mutation

// Kind is the rule kind that produced an event. Values match the names of
// elobs event kinds.
type Kind string

const (
	KindExists  Kind = "exists"
	KindCreated Kind = "created"
	KindRemoved Kind = "removed"
	KindChanged Kind = "changed"
)

// Event is one rule match on one node.
type Event struct {
	ID    string            `json:"id"`
	Kind  Kind              `json:"kind"`
	Rule  string            `json:"rule"`
	XPath string            `json:"xpath"`
	Tag   string            `json:"tag,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	// Snippet is the sanitised outer HTML of the node, truncated.
	Snippet string `json:"snippet,omitempty"`
	// Attr and OldValue are set for changed events caused by an attribute.
	Attr     string `json:"attr,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	// Count is the number of events folded into this one by compression.
	Count int   `json:"count,omitempty"`
	At    int64 `json:"at"` // epoch milliseconds
}

// Batch is all events collected during one debounce window of a page.
type Batch struct {
	ID          string  `json:"id"`
	PageURL     string  `json:"page_url"`
	PageID      string  `json:"page_id"`
	Seq         uint64  `json:"seq"` // per page, gaps mean lost batches
	Events      []Event `json:"events"`
	Timestamp   int64   `json:"timestamp"`
	SnapshotRef string  `json:"snapshot_ref,omitempty"`
}

// Snapshot is the serialised page tree at a point in time. It is taken when
// a page is first attached and after every document reset.
type Snapshot struct {
	ID        string `json:"id"`
	PageURL   string `json:"page_url"`
	PageID    string `json:"page_id"`
	HTML      []byte `json:"html"`
	HTMLHash  string `json:"html_hash"`
	Timestamp int64  `json:"timestamp"`
}
