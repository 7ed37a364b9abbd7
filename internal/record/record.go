package record

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Record is one immutable sample stored in a collection.
type Record struct {
	ID         uuid.UUID       `json:"id"`
	Collection string          `json:"collection"`
	Body       json.RawMessage `json:"body"`
	RecordedAt time.Time       `json:"recorded_at"`
	// AddedID is the store's monotonic insert sequence, used for anchoring.
	AddedID int64 `json:"added_id"`
}

// DeletedRef identifies a record removed from a collection since some anchor.
type DeletedRef struct {
	ID         uuid.UUID `json:"id"`
	Collection string    `json:"collection"`
	DeletedID  int64     `json:"deleted_id"`
}

// Batch is one unit of work handed to a processor: the additions and
// deletions observed in a bounded window of a collection.
type Batch struct {
	Added   []Record     `json:"added"`
	Deleted []DeletedRef `json:"deleted"`
}

// Empty reports whether the batch carries no additions and no deletions.
func (b Batch) Empty() bool {
	return len(b.Added) == 0 && len(b.Deleted) == 0
}

// Interval is a half-open time window [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Empty reports whether the interval covers no time at all.
func (iv Interval) Empty() bool {
	return !iv.Start.Before(iv.End)
}
