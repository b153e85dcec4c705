package reactions

import (
	"context"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickpoll/backend/internal/models"
	"github.com/quickpoll/backend/pkg/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Tx is the set of vote and like operations run inside one transaction.
type Tx interface {
	FindVote(ctx context.Context, pollID, userID uuid.UUID) (*models.Vote, error)
	DeleteVote(ctx context.Context, id uuid.UUID) error
	InsertVote(ctx context.Context, pollID, optionID, userID uuid.UUID) error
	FindLike(ctx context.Context, pollID, userID uuid.UUID) (*models.Like, error)
	DeleteLike(ctx context.Context, id uuid.UUID) error
	InsertLike(ctx context.Context, pollID, userID uuid.UUID) error
}

// Store runs fn in a transaction. *Repository implements it.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Repository persists votes and likes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reactions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InTx implements Store.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return database.ExecTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

type txRepo struct {
	db database.DBTX
}

func (t *txRepo) FindVote(ctx context.Context, pollID, userID uuid.UUID) (*models.Vote, error) {
	query, args, err := psql.Select("id", "poll_id", "option_id", "user_id", "created_at").
		From("votes").
		Where(sq.Eq{"poll_id": pollID, "user_id": userID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	var v models.Vote
	if err := pgxscan.Get(ctx, t.db, &v, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Classify("find vote", err)
	}
	return &v, nil
}

func (t *txRepo) DeleteVote(ctx context.Context, id uuid.UUID) error {
	return t.exec(ctx, "delete vote", psql.Delete("votes").Where(sq.Eq{"id": id}))
}

func (t *txRepo) InsertVote(ctx context.Context, pollID, optionID, userID uuid.UUID) error {
	return t.exec(ctx, "insert vote", psql.Insert("votes").
		Columns("poll_id", "option_id", "user_id").
		Values(pollID, optionID, userID))
}

func (t *txRepo) FindLike(ctx context.Context, pollID, userID uuid.UUID) (*models.Like, error) {
	query, args, err := psql.Select("id", "poll_id", "user_id", "created_at").
		From("likes").
		Where(sq.Eq{"poll_id": pollID, "user_id": userID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	var l models.Like
	if err := pgxscan.Get(ctx, t.db, &l, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, database.Classify("find like", err)
	}
	return &l, nil
}

func (t *txRepo) DeleteLike(ctx context.Context, id uuid.UUID) error {
	return t.exec(ctx, "delete like", psql.Delete("likes").Where(sq.Eq{"id": id}))
}

func (t *txRepo) InsertLike(ctx context.Context, pollID, userID uuid.UUID) error {
	return t.exec(ctx, "insert like", psql.Insert("likes").
		Columns("poll_id", "user_id").
		Values(pollID, userID))
}

func (t *txRepo) exec(ctx context.Context, op string, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := t.db.Exec(ctx, query, args...); err != nil {
		return database.Classify(op, err)
	}
	return nil
}
