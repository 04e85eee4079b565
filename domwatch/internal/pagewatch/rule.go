package pagewatch

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/vitrine/elobs"
	"github.com/hazyhaar/vitrine/selector"
)

var (
	ErrDuplicateRule = errors.New("pagewatch: duplicate rule name")
	ErrUnknownRule   = errors.New("pagewatch: unknown rule")
	ErrInvalidRule   = errors.New("pagewatch: invalid rule")
)

// Rule watches one CSS selector for one kind of event.
type Rule struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Selector string `json:"selector" yaml:"selector"`
}

// Validate checks the kind and compiles the selector.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRule)
	}
	if _, err := elobs.ParseKind(r.Kind); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Name, err)
	}
	if _, err := selector.Compile(r.Selector); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidRule, r.Name, err)
	}
	return nil
}

func (r Rule) kind() elobs.EventKind {
	k, _ := elobs.ParseKind(r.Kind)
	return k
}

// ruleHandler is registered once per rule; a pointer keeps registrations of
// distinct rules on the same selector apart.
type ruleHandler struct {
	page       *Page
	rule       Rule
	disconnect elobs.Disconnector
}

func (h *ruleHandler) HandleEvent(ev elobs.Event) error {
	h.page.deb.add(BuildEvent(h.rule.Name, ev, h.page.snippetLen))
	return nil
}
