package polls

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/changefeed"
	"github.com/quickpoll/backend/internal/models"
	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/internal/tally"
)

// Store is the persistence used by Service. *Repository implements it.
type Store interface {
	CreateWithOptions(ctx context.Context, question string, createdBy uuid.UUID, options []string) (*models.PollWithOptions, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	List(ctx context.Context, f ListFilter) ([]models.Poll, error)
	Snapshots(ctx context.Context, polls []models.Poll) ([]tally.Snapshot, error)
}

// Limits bound the number of options a poll may have.
type Limits struct {
	MinOptions int
	MaxOptions int
	ListLimit  int
}

// CreateInput is what a user submits to create a poll.
type CreateInput struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Service implements poll creation and result reads.
type Service struct {
	store     Store
	publisher changefeed.Publisher
	limits    Limits
	logger    *zap.Logger
}

// NewService creates a poll service. publisher may be nil when the database emits change events.
func NewService(store Store, publisher changefeed.Publisher, limits Limits, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = changefeed.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, publisher: publisher, limits: limits, logger: logger}
}

// Create validates in and persists the poll with its options on behalf of sess.
func (s *Service) Create(ctx context.Context, sess *session.Session, in CreateInput) (*models.PollWithOptions, error) {
	if sess == nil {
		return nil, apperr.ErrNotAuthenticated
	}
	question, options, err := Normalize(in, s.limits)
	if err != nil {
		return nil, err
	}

	p, err := s.store.CreateWithOptions(ctx, question, sess.UserID, options)
	if err != nil {
		return nil, apperr.Persistence("create poll", err)
	}

	ev := changefeed.Event{Table: changefeed.TablePolls, Op: changefeed.OpInsert, PollID: p.ID}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish poll created", zap.Error(err), zap.String("poll_id", p.ID.String()))
	}
	s.logger.Info("poll created", zap.String("poll_id", p.ID.String()), zap.Int("options", len(p.Options)))
	return p, nil
}

// Normalize trims the question and options, drops blank options and checks the
// option bounds. Surviving options keep their relative order.
func Normalize(in CreateInput, limits Limits) (string, []string, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return "", nil, apperr.Invalid("question", "question is required")
	}
	if limits.MaxOptions > 0 && len(in.Options) > limits.MaxOptions {
		return "", nil, apperr.Invalid("options", fmt.Sprintf("at most %d options are allowed", limits.MaxOptions))
	}
	options := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		if t := strings.TrimSpace(o); t != "" {
			options = append(options, t)
		}
	}
	minOptions := limits.MinOptions
	if minOptions <= 0 {
		minOptions = 2
	}
	if len(options) < minOptions {
		return "", nil, apperr.Invalid("options", fmt.Sprintf("please provide at least %d options", minOptions))
	}
	return question, options, nil
}

// Result returns the computed state of one poll for viewer (uuid.Nil for anonymous).
func (s *Service) Result(ctx context.Context, pollID, viewer uuid.UUID) (*tally.PollResult, error) {
	p, err := s.store.GetByID(ctx, pollID)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.Snapshots(ctx, []models.Poll{*p})
	if err != nil {
		return nil, fmt.Errorf("load poll %s: %w", pollID, err)
	}
	res := tally.Compute(snaps[0], viewer)
	return &res, nil
}

// List returns the computed state of the newest polls for viewer.
func (s *Service) List(ctx context.Context, f ListFilter, viewer uuid.UUID) ([]tally.PollResult, error) {
	if f.Limit == 0 || (s.limits.ListLimit > 0 && f.Limit > uint64(s.limits.ListLimit)) {
		f.Limit = uint64(s.limits.ListLimit)
	}
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	snaps, err := s.store.Snapshots(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("load polls: %w", err)
	}
	out := make([]tally.PollResult, len(snaps))
	for i, snap := range snaps {
		out[i] = tally.Compute(snap, viewer)
	}
	return out, nil
}
