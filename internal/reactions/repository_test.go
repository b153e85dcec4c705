package reactions

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/pkg/database"
)

var errNoDB = errors.New("no database")

// recordingDB captures the statements a txRepo sends and fails every one of them.
type recordingDB struct {
	queries []string
	args    [][]interface{}
}

func (r *recordingDB) record(sql string, args []any) {
	r.queries = append(r.queries, sql)
	r.args = append(r.args, args)
}

func (r *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.record(sql, args)
	return pgconn.CommandTag{}, errNoDB
}

func (r *recordingDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r.record(sql, args)
	return nil, errNoDB
}

func (r *recordingDB) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("QueryRow is not used by txRepo")
}

func TestTxRepoLocksRowsItReads(t *testing.T) {
	db := &recordingDB{}
	tx := &txRepo{db: db}
	ctx := context.Background()
	pollID, userID := uuid.New(), uuid.New()

	_, err := tx.FindVote(ctx, pollID, userID)
	var pe *apperr.PersistenceError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "find vote", pe.Op)

	_, err = tx.FindLike(ctx, pollID, userID)
	require.Error(t, err)

	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[0], "FROM votes WHERE poll_id = $1 AND user_id = $2 FOR UPDATE")
	assert.Contains(t, db.queries[1], "FROM likes WHERE poll_id = $1 AND user_id = $2 FOR UPDATE")
	assert.Equal(t, []interface{}{pollID, userID}, db.args[0])
}

func TestTxRepoWrites(t *testing.T) {
	db := &recordingDB{}
	tx := &txRepo{db: db}
	ctx := context.Background()
	pollID, optionID, userID, id := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	assert.Error(t, tx.InsertVote(ctx, pollID, optionID, userID))
	assert.Error(t, tx.DeleteVote(ctx, id))
	assert.Error(t, tx.InsertLike(ctx, pollID, userID))
	assert.Error(t, tx.DeleteLike(ctx, id))

	require.Len(t, db.queries, 4)
	assert.Equal(t, "INSERT INTO votes (poll_id,option_id,user_id) VALUES ($1,$2,$3)", db.queries[0])
	assert.Equal(t, []interface{}{pollID, optionID, userID}, db.args[0])
	assert.Equal(t, "DELETE FROM votes WHERE id = $1", db.queries[1])
	assert.Equal(t, "INSERT INTO likes (poll_id,user_id) VALUES ($1,$2)", db.queries[2])
	assert.Equal(t, "DELETE FROM likes WHERE id = $1", db.queries[3])
}

// testPool connects to QUICKPOLL_TEST_DATABASE_URL and applies migrations.
// Tests using it are skipped when the variable is unset.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("QUICKPOLL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("QUICKPOLL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, 4, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, nil))
	return pool
}

// seedPoll creates a user and a poll with two options, removed again on cleanup.
func seedPoll(t *testing.T, pool *pgxpool.Pool) (userID, pollID uuid.UUID, options []uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, full_name) VALUES ($1, 'x', 'Test') RETURNING id`,
		uuid.NewString()+"@example.com").Scan(&userID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO polls (question, created_by) VALUES ('Q?', $1) RETURNING id`, userID).Scan(&pollID))
	for i := 0; i < 2; i++ {
		var id uuid.UUID
		require.NoError(t, pool.QueryRow(ctx,
			`INSERT INTO poll_options (poll_id, option_text, option_order) VALUES ($1, $2, $3) RETURNING id`,
			pollID, "opt", i).Scan(&id))
		options = append(options, id)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM polls WHERE created_by = $1`, userID)
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, userID)
	})
	return userID, pollID, options
}

func TestRepositoryConstraints(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pollID, options := seedPoll(t, pool)
	_, otherPoll, _ := seedPoll(t, pool)

	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVote(ctx, pollID, options[0], userID)
	}))

	err := repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVote(ctx, pollID, options[1], userID)
	})
	var pe *apperr.PersistenceError
	require.True(t, errors.As(err, &pe), "second vote: %v", err)
	assert.True(t, pe.Conflict)

	err = repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertVote(ctx, otherPoll, options[0], userID)
	})
	require.True(t, errors.As(err, &pe), "option from another poll: %v", err)
	assert.True(t, pe.BadReference)

	var found uuid.UUID
	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		v, err := tx.FindVote(ctx, pollID, userID)
		if err != nil {
			return err
		}
		found = v.OptionID
		return nil
	}))
	assert.Equal(t, options[0], found)
}

func TestRepositoryRollsBackOnError(t *testing.T) {
	pool := testPool(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pollID, _ := seedPoll(t, pool)

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertLike(ctx, pollID, userID); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		l, err := tx.FindLike(ctx, pollID, userID)
		assert.Nil(t, l)
		return err
	}))
}
