package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/taskchat/internal/persistence"
)

// Job names registered by AddMaintenance.
const (
	JobRetention      = "retention"
	JobKVSweep        = "kv-sweep"
	JobRateLimitEvict = "ratelimit-evict"
)

// Retainer purges old rows. *persistence.Store satisfies it.
type Retainer interface {
	RunRetention(ctx context.Context, messageDays, auditLogDays int) (persistence.RetentionResult, error)
}

// Sweeper drops expired in-process entries and reports how many went.
type Sweeper interface {
	Sweep() int
}

// Evicter drops rate-limit windows idle for longer than maxAge.
type Evicter interface {
	EvictStale(maxAge time.Duration) int
}

// Maintenance describes the housekeeping jobs. Nil targets and empty
// schedules are skipped.
type Maintenance struct {
	Store             Retainer
	RetentionSchedule string
	MessagesDays      int
	AuditLogDays      int

	// Memory-backed kv stores; nothing to sweep when Redis is in use.
	KV []Sweeper

	Limiters   []Evicter
	EvictAfter time.Duration
}

// AddMaintenance registers the housekeeping jobs on s.
func AddMaintenance(s *Scheduler, m Maintenance, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if m.Store != nil && m.RetentionSchedule != "" {
		err := s.Add(JobRetention, m.RetentionSchedule, func(ctx context.Context) error {
			res, err := m.Store.RunRetention(ctx, m.MessagesDays, m.AuditLogDays)
			if err != nil {
				return err
			}
			if res.Total() > 0 {
				logger.Info("retention: purged records",
					"messages", res.PurgedMessages,
					"audit_logs", res.PurgedAuditLogs,
				)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(m.KV) > 0 {
		err := s.Add(JobKVSweep, "@every 1m", func(context.Context) error {
			n := 0
			for _, kv := range m.KV {
				n += kv.Sweep()
			}
			if n > 0 {
				logger.Debug("kv: swept expired keys", "count", n)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if len(m.Limiters) > 0 {
		maxAge := m.EvictAfter
		if maxAge <= 0 {
			maxAge = 10 * time.Minute
		}
		err := s.Add(JobRateLimitEvict, "@every 5m", func(context.Context) error {
			n := 0
			for _, l := range m.Limiters {
				n += l.EvictStale(maxAge)
			}
			if n > 0 {
				logger.Debug("ratelimit: evicted idle windows", "count", n)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
