package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the record, tombstone and anchor tables.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS records (
			added_id    BIGSERIAL PRIMARY KEY,
			id          UUID NOT NULL,
			collection  TEXT NOT NULL,
			body        JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),

			CONSTRAINT uq_records_collection_id UNIQUE (collection, id)
		);

		CREATE INDEX IF NOT EXISTS idx_records_fetch
			ON records (collection, added_id);

		CREATE INDEX IF NOT EXISTS idx_records_recorded
			ON records (collection, recorded_at);

		CREATE TABLE IF NOT EXISTS record_tombstones (
			deleted_id BIGSERIAL PRIMARY KEY,
			id         UUID NOT NULL,
			collection TEXT NOT NULL,
			deleted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_tombstones_fetch
			ON record_tombstones (collection, deleted_id);

		CREATE TABLE IF NOT EXISTS anchors (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate record tables: %w", err)
	}
	return nil
}

// RunPluginMigration creates the plugins registration table.
func RunPluginMigration(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS plugins (
			id          UUID PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			endpoint    TEXT NOT NULL,
			collections TEXT[] NOT NULL DEFAULT '{}',
			status      TEXT NOT NULL DEFAULT 'active',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate plugins table: %w", err)
	}
	return nil
}
