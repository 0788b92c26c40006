// Package persistence is the ownership-scoped store behind taskchat. Every
// task and conversation read or write takes the caller's user id and fails
// closed with ErrForbidden when the row belongs to someone else.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/taskchat/internal/bus"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidTitle = errors.New("invalid title")
	ErrEmailTaken   = errors.New("email already registered")
	ErrInvalidRole  = errors.New("invalid message role")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	bus     *bus.Bus // may be nil in tests
	dialect dialect
	now     func() time.Time
}

// Open connects to dsn. A postgres:// or postgresql:// URL selects the pgx
// driver; anything else is treated as a SQLite file path.
func Open(dsn string, eventBus *bus.Bus) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn required")
	}

	store := &Store{bus: eventBus, now: time.Now}
	if isPostgresDSN(dsn) {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxIdleTime(5 * time.Minute)
		store.db = db
		store.dialect = dialectPostgres
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite3: %w", err)
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		store.db = db
		store.dialect = dialectSQLite
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.db.PingContext(ctx); err != nil {
		_ = store.db.Close()
		return nil, fmt.Errorf("ping %s: %w", store.dialect, err)
	}
	if err := store.configurePragmas(ctx); err != nil {
		_ = store.db.Close()
		return nil, err
	}
	if err := store.initSchema(ctx); err != nil {
		_ = store.db.Close()
		return nil, err
	}
	return store, nil
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns "sqlite" or "postgres".
func (s *Store) Driver() string {
	return s.dialect.String()
}

// SetClock replaces the time source used for created_at/updated_at.
func (s *Store) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// timestamp returns the current time in the precision both drivers round-trip.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(q), args...)
}

func (s *Store) configurePragmas(ctx context.Context) error {
	if s.dialect != dialectSQLite {
		return nil
	}
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) publish(topic string, ev bus.TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, ev)
}

// Counts is a snapshot of table sizes for the metrics endpoint.
type Counts struct {
	Users          int64 `json:"users"`
	Tasks          int64 `json:"tasks"`
	CompletedTasks int64 `json:"completed_tasks"`
	Messages       int64 `json:"messages"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM tasks),
			(SELECT COUNT(*) FROM tasks WHERE completed = ?),
			(SELECT COUNT(*) FROM messages)
	`, true).Scan(&c.Users, &c.Tasks, &c.CompletedTasks, &c.Messages)
	if err != nil {
		return c, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}
