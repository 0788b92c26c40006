package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"
	"unicode/utf8"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/shared"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password so a caller cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("weak password")
)

// DefaultMinPasswordLength is the shortest accepted password, in characters.
const DefaultMinPasswordLength = 8

// FieldError is a validation failure tied to one request field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// UserStore is the slice of persistence the auth flow needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (persistence.User, error)
	GetUser(ctx context.Context, id string) (persistence.User, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
}

type Config struct {
	BcryptCost        int
	MinPasswordLength int
}

type Service struct {
	store  UserStore
	tokens *TokenService
	cfg    Config
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store UserStore, tokens *TokenService, cfg Config, logger *slog.Logger) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	if cfg.MinPasswordLength == 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tokens: tokens, cfg: cfg, logger: logger}
}

// Tokens returns the token service used for sessions.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// ValidateEmail normalizes email and checks that it is a bare address.
func ValidateEmail(email string) (string, error) {
	norm := persistence.NormalizeEmail(email)
	if norm == "" {
		return "", &FieldError{Field: "email", Message: "Email is required", Err: ErrInvalidEmail}
	}
	addr, err := mail.ParseAddress(norm)
	if err != nil || addr.Address != norm || addr.Name != "" {
		return "", &FieldError{Field: "email", Message: "Invalid email address", Err: ErrInvalidEmail}
	}
	return norm, nil
}

func (s *Service) validatePassword(password string) error {
	if utf8.RuneCountInString(password) < s.cfg.MinPasswordLength {
		return &FieldError{
			Field:   "password",
			Message: fmt.Sprintf("Password must be at least %d characters", s.cfg.MinPasswordLength),
			Err:     ErrWeakPassword,
		}
	}
	if len(password) > maxPasswordBytes {
		return &FieldError{
			Field:   "password",
			Message: fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes),
			Err:     ErrWeakPassword,
		}
	}
	return nil
}

// Register creates an account. A duplicate email returns
// persistence.ErrEmailTaken.
func (s *Service) Register(ctx context.Context, email, password string) (persistence.User, error) {
	norm, err := ValidateEmail(email)
	if err != nil {
		return persistence.User{}, err
	}
	if err := s.validatePassword(password); err != nil {
		return persistence.User{}, err
	}
	hash, err := HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return persistence.User{}, err
	}
	u, err := s.store.CreateUser(ctx, norm, hash)
	if err != nil {
		return persistence.User{}, err
	}
	s.logger.Info("user registered", "user_id", u.ID, "trace_id", shared.TraceID(ctx))
	return u, nil
}

// Login checks credentials and returns the user with a fresh session token.
func (s *Service) Login(ctx context.Context, email, password string) (persistence.User, string, error) {
	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return persistence.User{}, "", err
		}
		// Spend the same bcrypt time as a real comparison.
		CheckPassword(s.dummy(), password)
		audit.Deny(ctx, "auth.login", "unknown email", persistence.NormalizeEmail(email))
		return persistence.User{}, "", ErrInvalidCredentials
	}
	if !CheckPassword(u.PasswordHash, password) {
		audit.Deny(ctx, "auth.login", "wrong password", u.ID)
		return persistence.User{}, "", ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return persistence.User{}, "", err
	}
	audit.Record(ctx, audit.DecisionAllow, "auth.login", "", u.ID)
	return u, token, nil
}

// Authenticate validates token and returns its claims.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		s.logger.Debug("token rejected", "reason", err, "trace_id", shared.TraceID(ctx))
		return nil, err
	}
	return claims, nil
}

// User returns the account behind id.
func (s *Service) User(ctx context.Context, id string) (persistence.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := HashPassword("taskchat-timing-equalizer", s.cfg.BcryptCost)
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
