package dom

import "golang.org/x/net/html"

// RecordType is the kind of change a Record describes.
type RecordType int

const (
	ChildList     RecordType = iota + 1 // children added to or removed from Target
	Attributes                          // an attribute of Target changed
	CharacterData                       // the data of a text or comment node changed
)

func (t RecordType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	default:
		return "unknown"
	}
}

// Record is a single change to the tree. Added and Removed hold direct
// children of Target; removed nodes still carry their own subtree.
type Record struct {
	Type            RecordType
	Target          *html.Node
	Added           []*html.Node
	Removed         []*html.Node
	PreviousSibling *html.Node
	NextSibling     *html.Node
	AttrName        string // Attributes only
	OldValue        string // previous attribute value or character data
}

// Structural reports whether the record added or removed children.
func (r Record) Structural() bool {
	return r.Type == ChildList && (len(r.Added) > 0 || len(r.Removed) > 0)
}
