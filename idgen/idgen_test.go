package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_SortsByTime(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		id := gen()
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("UUIDv7: malformed %q", id)
		}
		if id[14] != '7' {
			t.Fatalf("UUIDv7: version nibble %q in %q", id[14], id)
		}
		if id <= prev {
			t.Fatalf("UUIDv7: %q not after %q", id, prev)
		}
		prev = id
	}
}

func TestHex(t *testing.T) {
	id := Hex(4)()
	if len(id) != 8 {
		t.Fatalf("Hex(4): got %q", id)
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("Hex(4): non-hex characters in %q", id)
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("evt_", UUIDv7())()
	if !strings.HasPrefix(id, "evt_") || !Valid(strings.TrimPrefix(id, "evt_")) {
		t.Errorf("Prefixed: got %q", id)
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("New: duplicate %q", id)
		}
		seen[id] = true
	}
	if Valid("not-a-uuid") {
		t.Error("Valid: accepted garbage")
	}
}
