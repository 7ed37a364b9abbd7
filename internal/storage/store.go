package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/oakbridge/recordsync/internal/record"
)

// ErrRecordNotFound is returned when a record lookup finds no matching row.
var ErrRecordNotFound = errors.New("record not found")

// RecordStore is the write and lookup surface over the record tables. The
// incremental fetch surface lives on the same implementation but is consumed
// through source.Source.
type RecordStore interface {
	// InsertRecord appends an immutable record to a collection. Returns the
	// stored record with its added_id sequence number.
	InsertRecord(ctx context.Context, collection string, id uuid.UUID, body json.RawMessage, recordedAt time.Time) (*record.Record, error)

	// GetRecord returns one record by collection and id.
	GetRecord(ctx context.Context, collection string, id uuid.UUID) (*record.Record, error)

	// DeleteRecord removes a record and writes its tombstone so incremental
	// consumers observe the deletion.
	DeleteRecord(ctx context.Context, collection string, id uuid.UUID) error

	// ListRecords pages through a collection in insert order. A non-empty
	// next anchor means more rows remain.
	ListRecords(ctx context.Context, collection string, anchor []byte, limit int) ([]record.Record, []byte, error)
}
