package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/models"
	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/pkg/response"
	"github.com/quickpoll/backend/pkg/utils"
)

// UserStore is the subset of Repository used by Handler.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, email, passwordHash, fullName string) (*models.User, error)
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token   string            `json:"token"`
	User    models.UserPublic `json:"user"`
	Session *session.Session  `json:"session"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	users    UserStore
	sessions *session.Provider
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserStore, sessions *session.Provider, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, sessions: sessions, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.users.GetByEmail(c.Request.Context(), email); err == nil {
		response.Conflict(c, "email already registered")
		return
	} else if !errors.Is(err, apperr.ErrNotFound) {
		response.Error(c, h.logger, err, "failed to look up user")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.users.Create(c.Request.Context(), email, hash, strings.TrimSpace(req.FullName))
	if err != nil {
		response.Error(c, h.logger, err, "failed to create user")
		return
	}

	token, s, err := h.sessions.SignIn(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic(), Session: s})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, s, err := h.sessions.SignIn(user.ID, user.Email)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic(), Session: s})
}

// Session handles GET /auth/session and returns the caller's current session.
func (h *Handler) Session(c *gin.Context) {
	s, err := session.Require(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err, "")
		return
	}
	response.OK(c, s)
}

// Logout handles POST /auth/logout. The token is rejected from then on.
func (h *Handler) Logout(c *gin.Context) {
	s, err := session.Require(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err, "")
		return
	}
	if err := h.sessions.SignOut(c.Request.Context(), s); err != nil {
		h.logger.Error("sign out", zap.Error(err))
		response.ServiceUnavailable(c, "failed to sign out")
		return
	}
	response.NoContent(c)
}
