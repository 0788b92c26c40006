package persistence

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// backoff bounds how writes are retried when SQLite reports contention.
type backoff struct {
	retries int
	base    time.Duration
	max     time.Duration
}

var writeBackoff = backoff{retries: 5, base: 50 * time.Millisecond, max: 500 * time.Millisecond}

// delay returns the wait before retry n (0-based): doubling from base, capped
// at max, then spread over [3/4, 5/4) of that value.
func (b backoff) delay(n int) time.Duration {
	d := b.base << uint(n)
	if d <= 0 || d > b.max {
		d = b.max
	}
	return d - d/4 + time.Duration(rand.Int64N(int64(d/2)+1))
}

// do runs f until it succeeds, fails with a non-contention error, retries run
// out, or ctx ends.
func (b backoff) do(ctx context.Context, f func() error) error {
	for n := 0; ; n++ {
		err := f()
		if err == nil || n >= b.retries || !isSQLiteBusy(err) {
			return err
		}
		t := time.NewTimer(b.delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Store) retry(ctx context.Context, f func() error) error {
	return writeBackoff.do(ctx, f)
}

// isSQLiteBusy reports SQLITE_BUSY and SQLITE_LOCKED, either as a driver
// error or as text that lost its type on the way up.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	for _, marker := range []string{"database is locked", "database table is locked", "SQLITE_BUSY", "SQLITE_LOCKED"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
