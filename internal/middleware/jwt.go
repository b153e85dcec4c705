package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/pkg/response"
)

// ContextSession is the gin context key holding the *session.Session.
const ContextSession = "session"

// Authenticator resolves a bearer token into a session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Session, error)
}

// RequireSession rejects requests without a valid bearer token and stores the
// session in both the gin context and the request context.
func RequireSession(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		s, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		setSession(c, s)
		c.Next()
	}
}

// OptionalSession attaches a session when a valid bearer token is present and
// lets anonymous requests through otherwise.
func OptionalSession(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			if s, err := auth.Authenticate(c.Request.Context(), token); err == nil {
				setSession(c, s)
			}
		}
		c.Next()
	}
}

func setSession(c *gin.Context, s *session.Session) {
	c.Set(ContextSession, s)
	c.Request = c.Request.WithContext(session.WithContext(c.Request.Context(), s))
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
