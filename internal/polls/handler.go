package polls

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/pkg/response"
)

// Handler handles poll HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Create handles POST /polls.
func (h *Handler) Create(c *gin.Context) {
	var req CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, _ := session.FromContext(c.Request.Context())
	p, err := h.svc.Create(c.Request.Context(), s, req)
	if err != nil {
		response.Error(c, h.logger, err, "failed to create poll")
		return
	}
	response.Created(c, p)
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	res, err := h.svc.Result(c.Request.Context(), pollID, viewer(c))
	if err != nil {
		response.Error(c, h.logger, err, "failed to get poll")
		return
	}
	response.OK(c, res)
}

// List handles GET /polls?created_by=&limit=.
func (h *Handler) List(c *gin.Context) {
	var f ListFilter
	if v := c.Query("created_by"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid created_by")
			return
		}
		f.CreatedBy = id
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		f.Limit = n
	}
	list, err := h.svc.List(c.Request.Context(), f, viewer(c))
	if err != nil {
		response.Error(c, h.logger, err, "failed to list polls")
		return
	}
	response.OK(c, list)
}

func viewer(c *gin.Context) uuid.UUID {
	if s, ok := session.FromContext(c.Request.Context()); ok {
		return s.UserID
	}
	return uuid.Nil
}
