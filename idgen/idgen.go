// Package idgen generates identifiers for batches, events and requests.
package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// Generator returns a new identifier on every call.
type Generator func() string

// UUIDv7 produces time-ordered RFC 9562 identifiers.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Hex produces n random bytes, hex encoded. Used for request trace ids.
func Hex(n int) Generator {
	return func() string {
		b := make([]byte, n)
		if _, err := rand.Read(b); err != nil {
			panic("idgen: crypto/rand: " + err.Error())
		}
		return fmt.Sprintf("%x", b)
	}
}

// Prefixed prepends prefix to every id from gen, e.g. "evt_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Default is used by New.
var Default = UUIDv7()

// New returns an id from Default.
func New() string { return Default() }

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
