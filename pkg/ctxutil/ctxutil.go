// Package ctxutil carries request-scoped values through context: the
// authenticated session and the request id.
package ctxutil

import (
	"context"

	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

type ctxKey string

const (
	sessionKey   ctxKey = "session"
	requestIDKey ctxKey = "request_id"
)

// WithSession stores the session in the context.
func WithSession(ctx context.Context, s domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromCtx extracts the session from the context.
// Returns an anonymous session and false if absent.
func SessionFromCtx(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(domain.Session)
	if !ok {
		return domain.Session{Anonymous: true}, false
	}
	return s, true
}

// UserIDFromCtx extracts the calling user's id from the session in context.
// Returns uuid.Nil and false for anonymous or missing sessions.
func UserIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	s, ok := SessionFromCtx(ctx)
	if !ok || s.Anonymous || s.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return s.UserID, true
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromCtx extracts the request ID from the context.
// Returns an empty string if absent.
func RequestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
