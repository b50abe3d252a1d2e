package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	session := domain.Session{
		UserID: uuid.New(),
		Roles:  []domain.Role{domain.RoleProjectManager},
	}
	ctx := WithSession(context.Background(), session)

	got, ok := SessionFromCtx(ctx)
	if !ok {
		t.Fatal("expected session in context")
	}
	if got.UserID != session.UserID {
		t.Errorf("UserID = %s, want %s", got.UserID, session.UserID)
	}
	if len(got.Roles) != 1 || got.Roles[0] != domain.RoleProjectManager {
		t.Errorf("Roles = %v", got.Roles)
	}
}

func TestSessionFromCtx_Missing(t *testing.T) {
	t.Parallel()

	got, ok := SessionFromCtx(context.Background())
	if ok {
		t.Error("expected ok=false for missing session")
	}
	if !got.Anonymous {
		t.Error("missing session should fall back to anonymous")
	}
}

func TestUserIDFromCtx(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	ctx := WithSession(context.Background(), domain.Session{UserID: userID})

	got, ok := UserIDFromCtx(ctx)
	if !ok || got != userID {
		t.Errorf("UserIDFromCtx = (%s, %v), want (%s, true)", got, ok, userID)
	}
}

func TestUserIDFromCtx_AnonymousSession(t *testing.T) {
	t.Parallel()

	ctx := WithSession(context.Background(), domain.Session{Anonymous: true})
	if _, ok := UserIDFromCtx(ctx); ok {
		t.Error("anonymous session should not yield a user id")
	}
}

func TestUserIDFromCtx_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := UserIDFromCtx(context.Background()); ok {
		t.Error("expected ok=false for empty context")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestIDFromCtx(ctx); got != "req-123" {
		t.Errorf("RequestIDFromCtx = %q, want %q", got, "req-123")
	}
}

func TestRequestIDFromCtx_Missing(t *testing.T) {
	t.Parallel()

	if got := RequestIDFromCtx(context.Background()); got != "" {
		t.Errorf("RequestIDFromCtx = %q, want empty", got)
	}
}
