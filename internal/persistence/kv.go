package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/basket/taskchat/internal/audit"
)

// KVSet upserts a value in kv_store.
func (s *Store) KVSet(ctx context.Context, key, val string) error {
	err := s.retry(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO kv_store (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;
		`, key, val, s.timestamp())
		return err
	})
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

// KVGet retrieves a value from kv_store. Returns empty string if key not found.
func (s *Store) KVGet(ctx context.Context, key string) (string, error) {
	var val string
	err := s.queryRow(ctx, `SELECT value FROM kv_store WHERE key = ?;`, key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("kv get: %w", err)
	}
	return val, nil
}

// InsertAudit implements audit.Sink.
func (s *Store) InsertAudit(ctx context.Context, e audit.Entry) error {
	_, err := s.exec(ctx, `
		INSERT INTO audit_log (trace_id, subject, action, decision, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, e.TraceID, e.Subject, e.Action, e.Decision, e.Reason, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}
