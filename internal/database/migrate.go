package database

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migration is a named, append-only schema change. Names must be unique; the
// ledger table enforces that and keeps Migrate idempotent.
type migration struct {
	name  string
	stmts []string
}

var migrations = []migration{
	{
		name: "001_initial_schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS documents (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				stored_name TEXT NOT NULL,
				class TEXT NOT NULL,
				uploaded_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS field_records (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				category TEXT NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				recorded_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS calculations (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				gross_income DOUBLE PRECISION NOT NULL,
				old_regime_tax DOUBLE PRECISION NOT NULL,
				new_regime_tax DOUBLE PRECISION NOT NULL,
				total_deductions DOUBLE PRECISION NOT NULL,
				net_tax DOUBLE PRECISION NOT NULL,
				subject_name TEXT,
				calculated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id BIGSERIAL PRIMARY KEY,
				session_id TEXT NOT NULL,
				user_message TEXT NOT NULL,
				response TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
		},
	},
	{
		name: "002_session_indexes",
		stmts: []string{
			`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_field_records_session ON field_records(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_calculations_session ON calculations(session_id)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id)`,
		},
	},
}

// Migrate applies every pending named migration in order. Each migration runs
// inside its own transaction together with its ledger insert, so a failed
// migration leaves neither schema changes nor a ledger row behind.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ledger = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	id BIGSERIAL PRIMARY KEY,
	name TEXT UNIQUE NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := pool.Exec(ctx, ledger); err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}
	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		if err := apply(ctx, pool, m); err != nil {
			return fmt.Errorf("apply %s: %w", m.name, err)
		}
		log.Printf("applied migration %s", m.name)
	}
	return nil
}

// MigrationNames returns the names of all known migrations in order.
func MigrationNames() []string {
	names := make([]string, 0, len(migrations))
	for _, m := range migrations {
		names = append(names, m.name)
	}
	return names
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan migration name: %w", err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func apply(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)
	for _, stmt := range m.stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
