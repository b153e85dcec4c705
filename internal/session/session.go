// Package session tracks the authenticated identity behind each request and
// WebSocket connection. The identity travels explicitly in context.Context;
// there is no process-wide current user.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quickpoll/backend/internal/apperr"
)

// Session is an authenticated user identity bound to one issued token.
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying s.
func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Require returns the session in ctx or apperr.ErrNotAuthenticated.
func Require(ctx context.Context) (*Session, error) {
	s, ok := FromContext(ctx)
	if !ok {
		return nil, apperr.ErrNotAuthenticated
	}
	return s, nil
}
