package polls

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/models"
	"github.com/quickpoll/backend/internal/tally"
	"github.com/quickpoll/backend/pkg/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ListFilter narrows GET /polls.
type ListFilter struct {
	CreatedBy uuid.UUID // uuid.Nil = everyone
	Limit     uint64
}

// Repository handles poll and poll option persistence, plus the table-scoped
// vote and like reads needed to rebuild a poll's state.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateWithOptions inserts the poll and its options in one transaction.
// options are stored in slice order with option_order 0..len-1.
func (r *Repository) CreateWithOptions(ctx context.Context, question string, createdBy uuid.UUID, options []string) (*models.PollWithOptions, error) {
	var out models.PollWithOptions
	err := database.ExecTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		query, args, err := psql.Insert("polls").
			Columns("question", "created_by").
			Values(question, createdBy).
			Suffix("RETURNING id, question, created_by, created_at").
			ToSql()
		if err != nil {
			return err
		}
		if err := pgxscan.Get(ctx, tx, &out.Poll, query, args...); err != nil {
			return database.Classify("insert poll", err)
		}

		query, args, err = insertOptions(out.ID, options).ToSql()
		if err != nil {
			return err
		}
		if err := pgxscan.Select(ctx, tx, &out.Options, query, args...); err != nil {
			return database.Classify("insert poll options", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func insertOptions(pollID uuid.UUID, options []string) sq.InsertBuilder {
	ins := psql.Insert("poll_options").Columns("poll_id", "option_text", "option_order")
	for i, text := range options {
		ins = ins.Values(pollID, text, i)
	}
	return ins.Suffix("RETURNING id, poll_id, option_text, option_order")
}

// GetByID returns a poll by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	query, args, err := psql.Select("id", "question", "created_by", "created_at").
		From("polls").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var p models.Poll
	if err := pgxscan.Get(ctx, r.pool, &p, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// List returns polls newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Poll, error) {
	q := psql.Select("id", "question", "created_by", "created_at").
		From("polls").
		OrderBy("created_at DESC", "id")
	if f.CreatedBy != uuid.Nil {
		q = q.Where(sq.Eq{"created_by": f.CreatedBy})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	polls := []models.Poll{}
	if err := pgxscan.Select(ctx, r.pool, &polls, query, args...); err != nil {
		return nil, err
	}
	return polls, nil
}

// ListOptions returns the options of the given polls ordered by poll then option_order.
func (r *Repository) ListOptions(ctx context.Context, pollIDs []uuid.UUID) ([]models.PollOption, error) {
	options := []models.PollOption{}
	err := r.selectByPoll(ctx, &options, "poll_options",
		[]string{"id", "poll_id", "option_text", "option_order"}, pollIDs, "poll_id", "option_order")
	return options, err
}

// ListVotes returns every vote on the given polls.
func (r *Repository) ListVotes(ctx context.Context, pollIDs []uuid.UUID) ([]models.Vote, error) {
	votes := []models.Vote{}
	err := r.selectByPoll(ctx, &votes, "votes",
		[]string{"id", "poll_id", "option_id", "user_id", "created_at"}, pollIDs, "created_at")
	return votes, err
}

// ListLikes returns every like on the given polls.
func (r *Repository) ListLikes(ctx context.Context, pollIDs []uuid.UUID) ([]models.Like, error) {
	likes := []models.Like{}
	err := r.selectByPoll(ctx, &likes, "likes",
		[]string{"id", "poll_id", "user_id", "created_at"}, pollIDs, "created_at")
	return likes, err
}

func (r *Repository) selectByPoll(ctx context.Context, dst interface{}, table string, columns []string, pollIDs []uuid.UUID, orderBy ...string) error {
	if len(pollIDs) == 0 {
		return nil
	}
	query, args, err := selectByPollQuery(table, columns, pollIDs, orderBy...).ToSql()
	if err != nil {
		return err
	}
	return pgxscan.Select(ctx, r.pool, dst, query, args...)
}

func selectByPollQuery(table string, columns []string, pollIDs []uuid.UUID, orderBy ...string) sq.SelectBuilder {
	return psql.Select(columns...).
		From(table).
		Where(sq.Eq{"poll_id": pollIDs}).
		OrderBy(orderBy...)
}

// Snapshots re-reads options, votes and likes of polls and groups them per poll,
// preserving the order of polls.
func (r *Repository) Snapshots(ctx context.Context, polls []models.Poll) ([]tally.Snapshot, error) {
	ids := make([]uuid.UUID, len(polls))
	for i, p := range polls {
		ids[i] = p.ID
	}
	options, err := r.ListOptions(ctx, ids)
	if err != nil {
		return nil, err
	}
	votes, err := r.ListVotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	likes, err := r.ListLikes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return groupSnapshots(polls, options, votes, likes), nil
}

func groupSnapshots(polls []models.Poll, options []models.PollOption, votes []models.Vote, likes []models.Like) []tally.Snapshot {
	idx := make(map[uuid.UUID]int, len(polls))
	out := make([]tally.Snapshot, len(polls))
	for i, p := range polls {
		idx[p.ID] = i
		out[i].Poll = p
	}
	for _, o := range options {
		if i, ok := idx[o.PollID]; ok {
			out[i].Options = append(out[i].Options, o)
		}
	}
	for _, v := range votes {
		if i, ok := idx[v.PollID]; ok {
			out[i].Votes = append(out[i].Votes, v)
		}
	}
	for _, l := range likes {
		if i, ok := idx[l.PollID]; ok {
			out[i].Likes = append(out[i].Likes, l)
		}
	}
	return out
}
