package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueExports is the Redis list key for results export jobs.
	QueueExports = "worker:exports"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// DefaultRetryBackoff is the delay between retries when none is configured.
	DefaultRetryBackoff = 10 * time.Second
	// dequeueTimeout bounds BLPOP so Run notices cancellation.
	dequeueTimeout = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeResultsExport JobType = "results_export"
)

// ResultsExportPayload is the payload for results export jobs.
type ResultsExportPayload struct {
	PollID      uuid.UUID `json:"poll_id"`
	RequestedBy uuid.UUID `json:"requested_by"`
	Key         string    `json:"key"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewJob wraps payload in a fresh envelope.
func NewJob(t JobType, payload interface{}) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Job{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the job payload into dst.
func (j *Job) Decode(dst interface{}) error {
	if err := json.Unmarshal(j.Payload, dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", j.Type, err)
	}
	return nil
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client  redis.Cmdable
	backoff time.Duration
	logger  *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client redis.Cmdable, backoff time.Duration, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Queue{client: client, backoff: backoff, logger: logger}
}

// Backoff is the delay a worker waits after a failed job.
func (q *Queue) Backoff() time.Duration { return q.backoff }

// Enqueue pushes job onto the list at key.
func (q *Queue) Enqueue(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("queue", key))
	return nil
}

// EnqueueResultsExport enqueues a results export job.
func (q *Queue) EnqueueResultsExport(ctx context.Context, payload ResultsExportPayload) (*Job, error) {
	job, err := NewJob(JobTypeResultsExport, payload)
	if err != nil {
		return nil, err
	}
	if err := q.Enqueue(ctx, QueueExports, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Dequeue waits briefly for a job on key. It returns a nil job when none arrived.
func (q *Queue) Dequeue(ctx context.Context, key string) (*Job, error) {
	result, err := q.client.BLPop(ctx, dequeueTimeout, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job on key with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, key string, job *Job) error {
	job.Attempt++
	if job.Attempt >= MaxRetries {
		if err := q.Enqueue(ctx, QueueDLQ, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.Enqueue(ctx, key, job); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
