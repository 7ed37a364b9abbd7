package anchor

import "context"

// An anchor is an opaque progress token owned by whichever source produced
// it. This package only moves the serialized bytes between a namespaced key
// and durable storage; it never interprets them.

// Store is a durable map from anchor key to opaque serialized anchor bytes.
// Load returns (nil, nil) when no anchor exists for the key; first run and
// "anchor was reset" are indistinguishable to callers, by contract.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

const (
	collectorPrefix = "collector"
	exportPrefix    = "export"
)

// CollectorKey is the anchor key for a standalone incremental collector.
func CollectorKey(collectionID string) string {
	return collectorPrefix + "." + collectionID
}

// SessionKey is the restoration-state key for a bulk export session.
func SessionKey(sessionID string) string {
	return exportPrefix + "." + sessionID
}

// SessionCollectionKey is the per-collection anchor key scoped to one
// export session. Namespacing per session keeps a session's progress from
// contaminating the standalone collector for the same collection.
func SessionCollectionKey(sessionID, collectionID string) string {
	return exportPrefix + "." + sessionID + "." + collectionID
}
