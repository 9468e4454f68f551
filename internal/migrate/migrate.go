// Package migrate applies the embedded database schema.
package migrate

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"fmt"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

const schemaName = "schema.sql"

// Apply runs schema.sql once, recording its hash in the migrations table.
// Concurrent callers are serialized on an advisory lock.
func Apply(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, lockMigrations); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(schema)))

	var applied bool
	if err := tx.GetContext(ctx, &applied, isHashApplied, schemaName, hash); err != nil {
		return err
	}
	if applied {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply %s: %w", schemaName, err)
	}
	if _, err := tx.ExecContext(ctx, recordHash, schemaName, hash); err != nil {
		return err
	}
	return tx.Commit()
}

const lockMigrations = `SELECT pg_advisory_xact_lock(hashtext('migrations'))`

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	hash TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS migrations_name_hash_idx ON migrations (name, hash);
`

const isHashApplied = `SELECT EXISTS (SELECT 1 FROM migrations WHERE name = $1 AND hash = $2)`

const recordHash = `INSERT INTO migrations (name, hash) VALUES ($1, $2) ON CONFLICT DO NOTHING`
