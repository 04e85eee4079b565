package elobs

import (
	"fmt"
	"strings"
)

// EventKind selects which structural transitions a registration hears about.
type EventKind int

const (
	// Exists fires for nodes that currently satisfy the matcher: once for
	// every match present at registration time, on insertion, and on every
	// attribute-driven transition from not matching to matching.
	Exists EventKind = iota
	// Created fires when a matching node is inserted into a territory.
	Created
	// Removed fires when a matching node is detached from a territory,
	// including as part of a detached ancestor's subtree.
	Removed
	// Changed fires when the children of a matching node change, or when
	// one of its attributes changes.
	Changed

	numKinds
)

var kindNames = [numKinds]string{"exists", "created", "removed", "changed"}

func (k EventKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return kindNames[k]
}

func (k EventKind) valid() bool { return k >= 0 && k < numKinds }

// ParseKind maps "exists", "created", "removed" and "changed" (any case)
// to their EventKind.
func ParseKind(s string) (EventKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if s == name {
			return EventKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}
