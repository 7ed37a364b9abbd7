package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oakbridge/recordsync/internal/record"
	"github.com/oakbridge/recordsync/internal/source"
)

// PostgresRecordStore is the record store backed by PostgreSQL. It serves
// both the write path (RecordStore) and the incremental fetch path
// (source.Source): additions are anchored on the records insert sequence,
// deletions on the tombstone sequence.
type PostgresRecordStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresRecordStore creates a record store. queryTimeout sets the
// per-query context deadline; zero means no timeout.
func NewPostgresRecordStore(pool *pgxpool.Pool, queryTimeout time.Duration) *PostgresRecordStore {
	return &PostgresRecordStore{pool: pool, queryTimeout: queryTimeout}
}

func (s *PostgresRecordStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout > 0 {
		return context.WithTimeout(ctx, s.queryTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresRecordStore) InsertRecord(ctx context.Context, collection string, id uuid.UUID, body json.RawMessage, recordedAt time.Time) (*record.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if id == uuid.Nil {
		id = uuid.New()
	}

	var r record.Record
	err := s.pool.QueryRow(ctx, `
		INSERT INTO records (id, collection, body, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING added_id, id, collection, body, recorded_at
	`, id, collection, body, recordedAt).
		Scan(&r.AddedID, &r.ID, &r.Collection, &r.Body, &r.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return &r, nil
}

func (s *PostgresRecordStore) GetRecord(ctx context.Context, collection string, id uuid.UUID) (*record.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var r record.Record
	err := s.pool.QueryRow(ctx, `
		SELECT added_id, id, collection, body, recorded_at
		FROM records
		WHERE collection = $1 AND id = $2
	`, collection, id).
		Scan(&r.AddedID, &r.ID, &r.Collection, &r.Body, &r.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return &r, nil
}

// DeleteRecord removes the row and writes its tombstone in one transaction,
// so a fetch never observes the deletion without the removal.
func (s *PostgresRecordStore) DeleteRecord(ctx context.Context, collection string, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete record begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM records WHERE collection = $1 AND id = $2
	`, collection, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO record_tombstones (id, collection) VALUES ($1, $2)
	`, id, collection); err != nil {
		return fmt.Errorf("write tombstone: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("delete record commit: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) ListRecords(ctx context.Context, collection string, anchor []byte, limit int) ([]record.Record, []byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	pos := DecodeAnchor(anchor)

	rows, err := s.pool.Query(ctx, `
		SELECT added_id, id, collection, body, recorded_at
		FROM records
		WHERE collection = $1 AND added_id > $2
		ORDER BY added_id ASC
		LIMIT $3
	`, collection, pos.AddedID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("list records: %w", err)
	}

	var next []byte
	if len(records) == limit {
		pos.AddedID = records[len(records)-1].AddedID
		next, err = pos.Encode()
		if err != nil {
			return nil, nil, err
		}
	}
	return records, next, nil
}

// FetchPage returns the additions and deletions past anchor for one
// collection, additions restricted to the interval and predicate. The
// predicate, when present, is a JSONB containment document matched against
// the record body.
func (s *PostgresRecordStore) FetchPage(ctx context.Context, collection, predicate string, anchor []byte, interval record.Interval, limit int) (source.Page, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}
	pos := DecodeAnchor(anchor)

	query := `
		SELECT added_id, id, collection, body, recorded_at
		FROM records
		WHERE collection = $1 AND added_id > $2`
	args := []any{collection, pos.AddedID}
	if !interval.Empty() {
		query += fmt.Sprintf(" AND recorded_at >= $%d AND recorded_at < $%d", len(args)+1, len(args)+2)
		args = append(args, interval.Start, interval.End)
	}
	if predicate != "" {
		query += fmt.Sprintf(" AND body @> $%d::jsonb", len(args)+1)
		args = append(args, predicate)
	}
	query += fmt.Sprintf(" ORDER BY added_id ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return source.Page{}, fmt.Errorf("fetch additions: %w", err)
	}
	added, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return source.Page{}, fmt.Errorf("fetch additions: %w", err)
	}

	deleted, err := s.fetchTombstones(ctx, collection, pos.DeletedID, limit)
	if err != nil {
		return source.Page{}, err
	}

	if len(added) > 0 {
		pos.AddedID = added[len(added)-1].AddedID
	}
	if len(deleted) > 0 {
		pos.DeletedID = deleted[len(deleted)-1].DeletedID
	}
	next, err := pos.Encode()
	if err != nil {
		return source.Page{}, err
	}
	return source.Page{Added: added, Deleted: deleted, NewAnchor: next}, nil
}

func (s *PostgresRecordStore) fetchTombstones(ctx context.Context, collection string, afterDeletedID int64, limit int) ([]record.DeletedRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT deleted_id, id, collection
		FROM record_tombstones
		WHERE collection = $1 AND deleted_id > $2
		ORDER BY deleted_id ASC
		LIMIT $3
	`, collection, afterDeletedID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch tombstones: %w", err)
	}
	defer rows.Close()

	var refs []record.DeletedRef
	for rows.Next() {
		var d record.DeletedRef
		if err := rows.Scan(&d.DeletedID, &d.ID, &d.Collection); err != nil {
			return nil, fmt.Errorf("fetch tombstones scan: %w", err)
		}
		refs = append(refs, d)
	}
	return refs, rows.Err()
}

// FetchAggregate buckets a collection by granularity and computes one
// statistic per bucket over the numeric "value" field of the record body.
func (s *PostgresRecordStore) FetchAggregate(ctx context.Context, collection string, interval record.Interval, granularity time.Duration, kind source.AggregateKind) ([]source.AggregateSample, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if granularity <= 0 {
		return nil, fmt.Errorf("fetch aggregate: granularity must be positive, got %s", granularity)
	}

	var expr string
	switch kind {
	case source.AggregateCount:
		expr = "count(*)::double precision"
	case source.AggregateMin:
		expr = "min((body->>'value')::double precision)"
	case source.AggregateMax:
		expr = "max((body->>'value')::double precision)"
	case source.AggregateAvg:
		expr = "avg((body->>'value')::double precision)"
	case source.AggregateSum:
		expr = "sum((body->>'value')::double precision)"
	default:
		return nil, fmt.Errorf("fetch aggregate: unknown kind %q", kind)
	}

	query := fmt.Sprintf(`
		SELECT to_timestamp(floor(extract(epoch FROM recorded_at) / $2) * $2) AS bucket, %s
		FROM records
		WHERE collection = $1 AND recorded_at >= $3 AND recorded_at < $4
		GROUP BY bucket
		ORDER BY bucket ASC
	`, expr)

	rows, err := s.pool.Query(ctx, query, collection, granularity.Seconds(), interval.Start, interval.End)
	if err != nil {
		return nil, fmt.Errorf("fetch aggregate: %w", err)
	}
	defer rows.Close()

	var samples []source.AggregateSample
	for rows.Next() {
		var sample source.AggregateSample
		var value *float64
		if err := rows.Scan(&sample.Bucket, &value); err != nil {
			return nil, fmt.Errorf("fetch aggregate scan: %w", err)
		}
		if value != nil {
			sample.Value = *value
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]record.Record, error) {
	var records []record.Record
	for rows.Next() {
		var r record.Record
		if err := rows.Scan(&r.AddedID, &r.ID, &r.Collection, &r.Body, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
