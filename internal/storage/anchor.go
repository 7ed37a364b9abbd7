package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Anchor is the opaque fetch position for the Postgres record store: the
// highest insert and tombstone sequence numbers already delivered. On the
// wire it is base64-encoded JSON; only this package interprets it.
type Anchor struct {
	AddedID   int64 `json:"added_id,omitempty"`
	DeletedID int64 `json:"deleted_id,omitempty"`
}

// Encode serializes the anchor to its opaque wire form.
func (a *Anchor) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal anchor: %w", err)
	}
	return []byte(base64.URLEncoding.EncodeToString(data)), nil
}

// DecodeAnchor parses an opaque anchor. A nil or empty input is the
// beginning-of-collection position, and so is an anchor that no longer
// parses: a corrupt token degrades to a full re-fetch instead of wedging
// every later fetch for the collection.
func DecodeAnchor(raw []byte) *Anchor {
	if len(raw) == 0 {
		return &Anchor{}
	}
	data, err := base64.URLEncoding.DecodeString(string(raw))
	if err != nil {
		return &Anchor{}
	}
	var a Anchor
	if err := json.Unmarshal(data, &a); err != nil {
		return &Anchor{}
	}
	return &a
}
