// Package exports lets poll creators snapshot results to S3 and fetch a
// short-lived download link.
package exports

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/internal/tally"
	"github.com/quickpoll/backend/pkg/queue"
	"github.com/quickpoll/backend/pkg/response"
	"github.com/quickpoll/backend/pkg/storage"
)

// Enqueuer schedules export jobs. *queue.Queue implements it.
type Enqueuer interface {
	EnqueueResultsExport(ctx context.Context, payload queue.ResultsExportPayload) (*queue.Job, error)
}

// Signer issues download links for finished exports. *storage.S3 implements it.
type Signer interface {
	ExportURL(ctx context.Context, key string) (string, time.Time, error)
}

// Results checks that a poll exists. *polls.Service implements it.
type Results interface {
	Result(ctx context.Context, pollID, viewer uuid.UUID) (*tally.PollResult, error)
}

// JobResponse is returned by POST /polls/:id/exports.
type JobResponse struct {
	JobID string `json:"job_id"`
	Key   string `json:"key"`
}

// URLResponse is returned by GET /polls/:id/exports/url.
type URLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Handler handles export endpoints. signer is nil when S3 is not configured.
type Handler struct {
	results Results
	jobs    Enqueuer
	signer  Signer
	logger  *zap.Logger
}

// NewHandler creates an exports handler.
func NewHandler(results Results, jobs Enqueuer, signer Signer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{results: results, jobs: jobs, signer: signer, logger: logger}
}

// Create handles POST /polls/:id/exports. Only the poll's creator may export it.
func (h *Handler) Create(c *gin.Context) {
	if h.signer == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	pollID, s, ok := h.authorize(c)
	if !ok {
		return
	}
	key := storage.ExportKey(pollID.String())
	job, err := h.jobs.EnqueueResultsExport(c.Request.Context(), queue.ResultsExportPayload{
		PollID:      pollID,
		RequestedBy: s.UserID,
		Key:         key,
	})
	if err != nil {
		h.logger.Error("enqueue export", zap.Error(err), zap.String("poll_id", pollID.String()))
		response.ServiceUnavailable(c, "failed to schedule export")
		return
	}
	response.Accepted(c, JobResponse{JobID: job.ID, Key: key})
}

// URL handles GET /polls/:id/exports/url.
func (h *Handler) URL(c *gin.Context) {
	if h.signer == nil {
		response.ServiceUnavailable(c, "exports are not configured")
		return
	}
	pollID, _, ok := h.authorize(c)
	if !ok {
		return
	}
	url, expires, err := h.signer.ExportURL(c.Request.Context(), storage.ExportKey(pollID.String()))
	if errors.Is(err, storage.ErrObjectNotFound) {
		response.NotFound(c, "export not ready")
		return
	}
	if err != nil {
		h.logger.Error("presign export", zap.Error(err), zap.String("poll_id", pollID.String()))
		response.Internal(c, "failed to sign export url")
		return
	}
	response.OK(c, URLResponse{URL: url, ExpiresAt: expires})
}

func (h *Handler) authorize(c *gin.Context) (uuid.UUID, *session.Session, bool) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return uuid.Nil, nil, false
	}
	s, err := session.Require(c.Request.Context())
	if err != nil {
		response.Error(c, h.logger, err, "")
		return uuid.Nil, nil, false
	}
	res, err := h.results.Result(c.Request.Context(), pollID, s.UserID)
	if err != nil {
		response.Error(c, h.logger, err, "failed to load poll")
		return uuid.Nil, nil, false
	}
	if res.Poll.CreatedBy != s.UserID {
		response.Forbidden(c, "only the poll creator can export results")
		return uuid.Nil, nil, false
	}
	return pollID, s, true
}
