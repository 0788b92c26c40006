package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/shared"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeEmail folds an address to the form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user. The email is normalized first; a duplicate
// returns ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	now := s.timestamp()
	u := User{
		ID:           shared.NewID(),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.retry(ctx, func() error {
		_, err := s.exec(ctx, `
			INSERT INTO users (id, email, password_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?);
		`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.queryRow(ctx, `
		SELECT id, email, password_hash, created_at, updated_at FROM users WHERE id = ?;
	`, id))
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.queryRow(ctx, `
		SELECT id, email, password_hash, created_at, updated_at FROM users WHERE email = ?;
	`, NormalizeEmail(email)))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

// DeleteUser removes a user; tasks, conversations and messages cascade.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var err error
		res, err = s.exec(ctx, `DELETE FROM users WHERE id = ?;`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
