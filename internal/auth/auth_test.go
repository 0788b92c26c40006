package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/persistence"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestToken_ValidUntilExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	svc := auth.NewTokenService(testSecret, 24*time.Hour, func() time.Time { return now })

	tok, err := svc.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	now = issued.Add(23*time.Hour + 59*time.Minute)
	claims, err := svc.Validate(tok)
	if err != nil {
		t.Fatalf("validate at T+23h59m: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Email != "a@example.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	now = issued.Add(24*time.Hour + time.Second)
	if _, err := svc.Validate(tok); !errors.Is(err, auth.ErrExpiredToken) {
		t.Fatalf("validate at T+24h00m01s err = %v, want ErrExpiredToken", err)
	}
}

func TestToken_WrongSecretIsInvalid(t *testing.T) {
	issuer := auth.NewTokenService(testSecret, time.Hour, nil)
	other := auth.NewTokenService([]byte("ffffffffffffffffffffffffffffffff"), time.Hour, nil)

	tok, err := issuer.Issue("user-1", "a@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := other.Validate(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestToken_Malformed(t *testing.T) {
	svc := auth.NewTokenService(testSecret, time.Hour, nil)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Validate(tok); !errors.Is(err, auth.ErrMalformedToken) {
			t.Fatalf("Validate(%q) err = %v, want ErrMalformedToken", tok, err)
		}
	}
}

func TestToken_RejectsOtherAlgorithms(t *testing.T) {
	svc := auth.NewTokenService(testSecret, time.Hour, nil)
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Validate(tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("HS512 token err = %v, want ErrInvalidToken", err)
	}
}

func TestToken_RequiresExpiry(t *testing.T) {
	svc := auth.NewTokenService(testSecret, time.Hour, nil)
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if _, err := svc.Validate(tok); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}

func TestPassword_HashAndCheck(t *testing.T) {
	h, err := auth.HashPassword("correct horse", 4)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !auth.CheckPassword(h, "correct horse") {
		t.Fatal("expected match")
	}
	if auth.CheckPassword(h, "wrong horse") {
		t.Fatal("expected mismatch")
	}
	if auth.CheckPassword("not-a-hash", "x") {
		t.Fatal("malformed hash must not match")
	}
}

func newService(t *testing.T) *auth.Service {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "auth.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	tokens := auth.NewTokenService(testSecret, time.Hour, nil)
	return auth.NewService(store, tokens, auth.Config{BcryptCost: 4}, nil)
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, " Alice@Example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Fatalf("email = %q", u.Email)
	}

	got, tok, err := svc.Login(ctx, "ALICE@example.com", "password123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("login returned user %s, want %s", got.ID, u.ID)
	}
	claims, err := svc.Authenticate(ctx, tok)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.UserID() != u.ID {
		t.Fatalf("token subject = %s", claims.UserID())
	}
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "A@EXAMPLE.COM", "password456"); !errors.Is(err, persistence.ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		email, password string
		want            error
		field           string
	}{
		{"not-an-email", "password123", auth.ErrInvalidEmail, "email"},
		{"Bob <bob@example.com>", "password123", auth.ErrInvalidEmail, "email"},
		{"", "password123", auth.ErrInvalidEmail, "email"},
		{"bob@example.com", "short", auth.ErrWeakPassword, "password"},
		{"bob@example.com", strings.Repeat("x", 73), auth.ErrWeakPassword, "password"},
	}
	for _, tt := range tests {
		_, err := svc.Register(ctx, tt.email, tt.password)
		if !errors.Is(err, tt.want) {
			t.Fatalf("Register(%q) err = %v, want %v", tt.email, err, tt.want)
		}
		var fe *auth.FieldError
		if !errors.As(err, &fe) || fe.Field != tt.field {
			t.Fatalf("Register(%q) field error = %+v, want field %s", tt.email, fe, tt.field)
		}
	}
}

func TestService_LoginFailuresAreIndistinguishable(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "a@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, errWrong := svc.Login(ctx, "a@example.com", "nope-nope")
	_, _, errUnknown := svc.Login(ctx, "ghost@example.com", "password123")
	if !errors.Is(errWrong, auth.ErrInvalidCredentials) || !errors.Is(errUnknown, auth.ErrInvalidCredentials) {
		t.Fatalf("errors = %v / %v, want ErrInvalidCredentials", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errUnknown)
	}
}
