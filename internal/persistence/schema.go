package persistence

import (
	"context"
	"fmt"
	"strings"
)

type migration struct {
	version  int
	checksum string
	// statements are written for SQLite; ddl() adapts them per dialect.
	statements []string
}

var migrations = []migration{
	{
		version:  1,
		checksum: "tc-v1-users-tasks-conversations",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				title TEXT NOT NULL CHECK(length(title) BETWEEN 1 AND 500),
				completed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner_id, created_at);`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id TEXT PRIMARY KEY,
				owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated ON conversations(owner_id, updated_at);`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role TEXT NOT NULL CHECK(role IN ('user', 'assistant', 'system')),
				content TEXT NOT NULL,
				tool_calls TEXT,
				created_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);`,
		},
	},
	{
		version:  2,
		checksum: "tc-v2-kv-audit",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS kv_store (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				trace_id TEXT NOT NULL DEFAULT '',
				subject TEXT NOT NULL DEFAULT '',
				action TEXT NOT NULL,
				decision TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at);`,
		},
	},
}

func (s *Store) ddl(stmt string) string {
	if s.dialect != dialectPostgres {
		return stmt
	}
	r := strings.NewReplacer(
		"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		"TIMESTAMP", "TIMESTAMPTZ",
		"length(title)", "char_length(title)",
	)
	return r.Replace(stmt)
}

// initSchema applies pending migrations in one transaction and refuses to
// run against a database written by a newer build.
func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.ddl(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		);
	`)); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	latest := migrations[len(migrations)-1]
	if maxVersion > latest.version {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, latest.version)
	}

	for _, m := range migrations {
		if m.version <= maxVersion {
			var existing string
			if err := tx.QueryRowContext(ctx, s.rebind(`SELECT checksum FROM schema_migrations WHERE version = ?;`), m.version).Scan(&existing); err != nil {
				return fmt.Errorf("read schema migration checksum: %w", err)
			}
			if existing != m.checksum {
				return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", m.version, existing, m.checksum)
			}
			continue
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, s.ddl(stmt)); err != nil {
				return fmt.Errorf("apply migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (version, checksum, applied_at) VALUES (?, ?, ?);`),
			m.version, m.checksum, s.timestamp()); err != nil {
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.queryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
