package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/tally"
	"github.com/quickpoll/backend/pkg/queue"
)

// JobQueue is the part of *queue.Queue used by the processor.
type JobQueue interface {
	Dequeue(ctx context.Context, key string) (*queue.Job, error)
	Retry(ctx context.Context, key string, job *queue.Job) error
	Backoff() time.Duration
}

// Results reads a poll's computed state. *polls.Service implements it.
type Results interface {
	Result(ctx context.Context, pollID, viewer uuid.UUID) (*tally.PollResult, error)
}

// Uploader stores export documents. *storage.S3 implements it.
type Uploader interface {
	PutExport(ctx context.Context, key string, body []byte) error
}

// ExportOption is one option line of an export document.
type ExportOption struct {
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage int     `json:"percentage"`
	Exact      float64 `json:"exact_percentage"`
}

// ExportDocument is what gets written to exports/<poll_id>/results.json.
type ExportDocument struct {
	PollID     uuid.UUID      `json:"poll_id"`
	Question   string         `json:"question"`
	CreatedBy  uuid.UUID      `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
	ExportedAt time.Time      `json:"exported_at"`
	TotalVotes int            `json:"total_votes"`
	Likes      int            `json:"likes"`
	Options    []ExportOption `json:"options"`
}

// BuildExport turns a poll result into an export document.
func BuildExport(res *tally.PollResult, at time.Time) ExportDocument {
	doc := ExportDocument{
		PollID:     res.Poll.ID,
		Question:   res.Poll.Question,
		CreatedBy:  res.Poll.CreatedBy,
		CreatedAt:  res.Poll.CreatedAt,
		ExportedAt: at.UTC(),
		TotalVotes: res.TotalVotes,
		Likes:      res.Likes,
		Options:    make([]ExportOption, len(res.Options)),
	}
	for i, o := range res.Options {
		doc.Options[i] = ExportOption{
			Text:       o.Text,
			Votes:      o.Votes,
			Percentage: o.Percentage,
			Exact:      tally.Percentage(o.Votes, res.TotalVotes),
		}
	}
	return doc
}

// ExportProcessor processes results export jobs: compute the tally, upload JSON to S3.
type ExportProcessor struct {
	results  Results
	uploader Uploader
	queue    JobQueue
	now      func() time.Time
	logger   *zap.Logger
}

// NewExportProcessor creates a results export processor.
func NewExportProcessor(results Results, uploader Uploader, q JobQueue, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{results: results, uploader: uploader, queue: q, now: time.Now, logger: logger}
}

// Process executes one results export job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeResultsExport {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ResultsExportPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}

	res, err := p.results.Result(ctx, payload.PollID, uuid.Nil)
	if errors.Is(err, apperr.ErrNotFound) {
		p.logger.Warn("export skipped, poll not found", zap.String("poll_id", payload.PollID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}

	body, err := json.MarshalIndent(BuildExport(res, p.now()), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}
	if err := p.uploader.PutExport(ctx, payload.Key, body); err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	p.logger.Info("results export completed", zap.String("poll_id", payload.PollID.String()), zap.String("s3_key", payload.Key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, queue.QueueExports)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, queue.QueueExports, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ExportProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.queue.Backoff())
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
