package shared

import (
	"context"

	"github.com/google/uuid"
)

// ctxKey indexes the request-scoped values taskchat carries in a context.
type ctxKey int

const (
	traceIDKey ctxKey = iota
	userIDKey
	channelKey
)

func stringValue(ctx context.Context, key ctxKey, fallback string) string {
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

// NewID returns a fresh UUID string, used for row ids and request ids alike.
func NewID() string {
	return uuid.NewString()
}

// NewTraceID returns a fresh request id.
func NewTraceID() string {
	return NewID()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the request id, or "-" outside a request.
func TraceID(ctx context.Context) string {
	return stringValue(ctx, traceIDKey, "-")
}

// WithUserID marks ctx as acting for the given account.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) string {
	return stringValue(ctx, userIDKey, "")
}

// WithChannel records the surface a request arrived on: http, telegram or tui.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// Channel defaults to "http".
func Channel(ctx context.Context) string {
	return stringValue(ctx, channelKey, "http")
}
