package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const schemaVersion = 1

// tables and indexes per driver, in dependency order
var schema = map[string][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			isbn TEXT NOT NULL,
			category TEXT NOT NULL,
			total_copies INTEGER NOT NULL CHECK (total_copies > 0),
			available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
			availability_status TEXT NOT NULL CHECK (availability_status IN ('available', 'borrowed')),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			address TEXT,
			membership_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id),
			member_id TEXT NOT NULL REFERENCES members(id),
			issue_date TIMESTAMPTZ NOT NULL,
			due_date TIMESTAMPTZ NOT NULL,
			return_date TIMESTAMPTZ,
			status TEXT NOT NULL CHECK (status IN ('active', 'returned')),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CHECK ((status = 'returned') = (return_date IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book_status ON transactions (book_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions (member_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value INTEGER NOT NULL)`,
	},
	DriverSQLite: {
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS books (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL,
			isbn TEXT NOT NULL,
			category TEXT NOT NULL,
			total_copies INTEGER NOT NULL CHECK (total_copies > 0),
			available_copies INTEGER NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
			availability_status TEXT NOT NULL CHECK (availability_status IN ('available', 'borrowed')),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id TEXT PRIMARY KEY,
			member_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT NOT NULL,
			address TEXT,
			membership_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			book_id TEXT NOT NULL REFERENCES books(id),
			member_id TEXT NOT NULL REFERENCES members(id),
			issue_date DATETIME NOT NULL,
			due_date DATETIME NOT NULL,
			return_date DATETIME,
			status TEXT NOT NULL CHECK (status IN ('active', 'returned')),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			CHECK ((status = 'returned') = (return_date IS NOT NULL))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_book_status ON transactions (book_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions (member_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value INTEGER NOT NULL)`,
	},
}

var setVersion = map[string]string{
	DriverPostgres: `INSERT INTO meta (key, value) VALUES ('schema_version', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
	DriverSQLite: `INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
}

// Migrate creates the schema if the database is behind the current version.
func (s *SQLStore) Migrate(ctx context.Context) error {
	driver := s.db.DriverName()
	stmts, ok := schema[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		s.log.Debug("Schema up to date", zap.Int("version", current))
		return nil
	}

	if driver == DriverSQLite {
		// journal_mode cannot change inside a transaction
		if _, err := s.db.ExecContext(ctx, stmts[0]); err != nil {
			return fmt.Errorf("set journal mode: %w", err)
		}
		stmts = stmts[1:]
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, setVersion[driver], schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	s.log.Info("Schema migrated", zap.Int("from", current), zap.Int("to", schemaVersion))
	return nil
}

// SchemaVersion reports the applied schema version, 0 for an empty database.
func (s *SQLStore) SchemaVersion(ctx context.Context) (int, error) {
	var exists int
	var probe string
	switch s.db.DriverName() {
	case DriverPostgres:
		probe = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'meta'`
	default:
		probe = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`
	}
	if err := s.db.QueryRowxContext(ctx, probe).Scan(&exists); err != nil {
		return 0, fmt.Errorf("probe meta table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	err := s.db.QueryRowxContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
