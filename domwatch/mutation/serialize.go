package mutation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// MarshalBatch encodes b as JSON.
func MarshalBatch(b *Batch) ([]byte, error) { return json.Marshal(b) }

// UnmarshalBatch decodes a batch and rejects one without an id.
func UnmarshalBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("mutation: decode batch: %w", err)
	}
	if b.ID == "" {
		return nil, fmt.Errorf("mutation: decode batch: missing id")
	}
	return &b, nil
}

// MarshalSnapshot encodes s as JSON.
func MarshalSnapshot(s *Snapshot) ([]byte, error) { return json.Marshal(s) }

// UnmarshalSnapshot decodes a snapshot and verifies its hash when present.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("mutation: decode snapshot: %w", err)
	}
	if s.HTMLHash != "" && s.HTMLHash != HashHTML(s.HTML) {
		return nil, fmt.Errorf("mutation: decode snapshot %s: hash mismatch", s.ID)
	}
	return &s, nil
}

// HashHTML returns the hex SHA-256 of raw HTML.
func HashHTML(html []byte) string {
	h := sha256.Sum256(html)
	return hex.EncodeToString(h[:])
}
