package gateway

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/audit"
	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/otel"
	"github.com/basket/taskchat/internal/persistence"
	"github.com/basket/taskchat/internal/shared"
	"go.opentelemetry.io/otel/trace"
)

// sessionToken extracts the session token from the auth cookie, falling
// back to an Authorization: Bearer header for non-browser clients.
func (s *Server) sessionToken(r *http.Request) string {
	if c, err := r.Cookie(s.cfg.Cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}

// requireUser rejects requests without a valid session. Invalid, expired
// and malformed tokens share one response.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.sessionToken(r)
		if token == "" {
			s.cfg.Metrics.RecordAuthFailure(r.Context(), "missing_token")
			writeError(w, r, http.StatusUnauthorized, CodeAuthentication, msgUnauthorized)
			return
		}
		claims, err := s.cfg.Auth.Authenticate(r.Context(), token)
		if err != nil {
			s.cfg.Metrics.RecordAuthFailure(r.Context(), "invalid_token")
			audit.Deny(r.Context(), "auth.token", "invalid token", "")
			writeError(w, r, http.StatusUnauthorized, CodeAuthentication, msgBadToken)
			return
		}
		trace.SpanFromContext(r.Context()).SetAttributes(otel.AttrUserID.String(claims.UserID()))
		next.ServeHTTP(w, r.WithContext(shared.WithUserID(r.Context(), claims.UserID())))
	})
}

// ownerID returns the authenticated caller. Only valid behind requireUser.
func ownerID(r *http.Request) string {
	return shared.UserID(r.Context())
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    token,
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: sameSite(s.cfg.Cookie.SameSite),
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    "",
		Path:     s.cfg.Cookie.Path,
		Domain:   s.cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: sameSite(s.cfg.Cookie.SameSite),
	})
}

func sameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func viewUser(u persistence.User) userView {
	return userView{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !s.decodeJSON(w, r, &in) {
		return
	}
	u, err := s.cfg.Auth.Register(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewUser(u))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if !s.decodeJSON(w, r, &in) {
		return
	}
	u, token, err := s.cfg.Auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.cfg.Metrics.RecordAuthFailure(r.Context(), "bad_credentials")
		}
		s.writeDomainError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, s.cfg.Auth.Tokens().TTL())
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(u)})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.cfg.Auth.User(r.Context(), ownerID(r))
	if err != nil {
		// A valid token for a deleted account is still not a session.
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, CodeAuthentication, msgBadToken)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}
