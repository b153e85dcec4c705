package auth

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
	"github.com/quickpoll/backend/pkg/database"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{"id", "email", "password_hash", "full_name", "created_at", "updated_at"}

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, sq.Eq{"email": email})
}

func (r *Repository) getOne(ctx context.Context, where sq.Eq) (*models.User, error) {
	query, args, err := psql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := pgxscan.Get(ctx, r.pool, &u, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string) (*models.User, error) {
	query, args, err := psql.Insert("users").
		Columns("email", "password_hash", "full_name").
		Values(email, passwordHash, fullName).
		Suffix("RETURNING id, email, password_hash, full_name, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	var u models.User
	if err := pgxscan.Get(ctx, r.pool, &u, query, args...); err != nil {
		return nil, database.Classify("insert user", err)
	}
	return &u, nil
}
