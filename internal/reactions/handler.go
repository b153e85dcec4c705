package reactions

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/pkg/response"
)

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	OptionID uuid.UUID `json:"option_id" binding:"required"`
}

// VoteResponse reports what a vote did.
type VoteResponse struct {
	Outcome VoteOutcome `json:"outcome"`
}

// LikeResponse reports the like state after a toggle.
type LikeResponse struct {
	Liked bool `json:"liked"`
}

// Handler handles vote and like endpoints.
type Handler struct {
	reconciler *Reconciler
	logger     *zap.Logger
}

// NewHandler creates a reactions handler.
func NewHandler(reconciler *Reconciler, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reconciler: reconciler, logger: logger}
}

// Vote handles POST /polls/:id/vote.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	s, err := session.Require(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err, "")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	outcome, err := h.reconciler.CastVote(c.Request.Context(), pollID, req.OptionID, s.UserID)
	if err != nil {
		response.Error(c, h.logger, err, "failed to record vote")
		return
	}
	response.OK(c, VoteResponse{Outcome: outcome})
}

// Like handles POST /polls/:id/like.
func (h *Handler) Like(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	s, err := session.Require(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err, "")
		return
	}
	liked, err := h.reconciler.ToggleLike(c.Request.Context(), pollID, s.UserID)
	if err != nil {
		response.Error(c, h.logger, err, "failed to toggle like")
		return
	}
	response.OK(c, LikeResponse{Liked: liked})
}
