package persistence

import (
	"context"
	"fmt"
)

// RetentionResult counts the rows one retention pass removed.
type RetentionResult struct {
	PurgedAuditLogs int64 `json:"purged_audit_logs"`
	PurgedMessages  int64 `json:"purged_messages"`
}

// Total is the number of rows removed across all tables.
func (r RetentionResult) Total() int64 {
	return r.PurgedAuditLogs + r.PurgedMessages
}

// RunRetention removes chat messages older than messageDays and audit rows
// older than auditLogDays. A window of zero or less keeps that table forever.
// Tasks and accounts are never touched. Running it twice is harmless.
func (s *Store) RunRetention(ctx context.Context, messageDays, auditLogDays int) (RetentionResult, error) {
	var res RetentionResult
	now := s.timestamp()
	windows := []struct {
		table string
		days  int
		into  *int64
	}{
		{"audit_log", auditLogDays, &res.PurgedAuditLogs},
		{"messages", messageDays, &res.PurgedMessages},
	}
	for _, w := range windows {
		if w.days <= 0 {
			continue
		}
		var n int64
		err := s.retry(ctx, func() error {
			out, err := s.exec(ctx, `DELETE FROM `+w.table+` WHERE created_at < ?;`, now.AddDate(0, 0, -w.days))
			if err != nil {
				return err
			}
			n, err = out.RowsAffected()
			return err
		})
		if err != nil {
			return res, fmt.Errorf("retention: purge %s: %w", w.table, err)
		}
		*w.into = n
	}
	return res, nil
}
