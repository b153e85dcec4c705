package reactions

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/changefeed"
	"github.com/quickpoll/backend/internal/models"
)

// memStore keeps votes and likes in maps. InTx works on a copy and swaps it in on success.
type memStore struct {
	mu    sync.Mutex
	votes map[uuid.UUID]models.Vote
	likes map[uuid.UUID]models.Like
	// options maps option id -> poll id; votes on unknown pairs fail like the foreign key.
	options map[uuid.UUID]uuid.UUID
	// gate, when set, blocks InTx until closed.
	gate    chan struct{}
	entered chan struct{}
	failErr error
}

func newMemStore() *memStore {
	return &memStore{
		votes:   make(map[uuid.UUID]models.Vote),
		likes:   make(map[uuid.UUID]models.Like),
		options: make(map[uuid.UUID]uuid.UUID),
	}
}

func (m *memStore) addPoll(n int) (uuid.UUID, []uuid.UUID) {
	pollID := uuid.New()
	opts := make([]uuid.UUID, n)
	for i := range opts {
		opts[i] = uuid.New()
		m.options[opts[i]] = pollID
	}
	return pollID, opts
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{store: m, votes: make(map[uuid.UUID]models.Vote), likes: make(map[uuid.UUID]models.Like)}
	for k, v := range m.votes {
		tx.votes[k] = v
	}
	for k, v := range m.likes {
		tx.likes[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.failErr != nil {
		return m.failErr
	}
	m.votes, m.likes = tx.votes, tx.likes
	return nil
}

func (m *memStore) votesFor(pollID uuid.UUID) []models.Vote {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Vote
	for _, v := range m.votes {
		if v.PollID == pollID {
			out = append(out, v)
		}
	}
	return out
}

func (m *memStore) likeCount(pollID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.likes {
		if l.PollID == pollID {
			n++
		}
	}
	return n
}

type memTx struct {
	store *memStore
	votes map[uuid.UUID]models.Vote
	likes map[uuid.UUID]models.Like
}

func (t *memTx) FindVote(_ context.Context, pollID, userID uuid.UUID) (*models.Vote, error) {
	for _, v := range t.votes {
		if v.PollID == pollID && v.UserID == userID {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (t *memTx) DeleteVote(_ context.Context, id uuid.UUID) error {
	delete(t.votes, id)
	return nil
}

func (t *memTx) InsertVote(_ context.Context, pollID, optionID, userID uuid.UUID) error {
	if t.store.options[optionID] != pollID {
		return &apperr.PersistenceError{Op: "insert vote", Err: errors.New("fk"), BadReference: true}
	}
	for _, v := range t.votes {
		if v.PollID == pollID && v.UserID == userID {
			return &apperr.PersistenceError{Op: "insert vote", Err: errors.New("unique"), Conflict: true}
		}
	}
	id := uuid.New()
	t.votes[id] = models.Vote{ID: id, PollID: pollID, OptionID: optionID, UserID: userID}
	return nil
}

func (t *memTx) FindLike(_ context.Context, pollID, userID uuid.UUID) (*models.Like, error) {
	for _, l := range t.likes {
		if l.PollID == pollID && l.UserID == userID {
			l := l
			return &l, nil
		}
	}
	return nil, nil
}

func (t *memTx) DeleteLike(_ context.Context, id uuid.UUID) error {
	delete(t.likes, id)
	return nil
}

func (t *memTx) InsertLike(_ context.Context, pollID, userID uuid.UUID) error {
	id := uuid.New()
	t.likes[id] = models.Like{ID: id, PollID: pollID, UserID: userID}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev changefeed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func TestCastVoteOutcomes(t *testing.T) {
	store := newMemStore()
	pub := &recordingPublisher{}
	r := NewReconciler(store, pub, nil)
	pollID, opts := store.addPoll(2)
	user := uuid.New()
	ctx := context.Background()

	outcome, err := r.CastVote(ctx, pollID, opts[0], user)
	require.NoError(t, err)
	assert.Equal(t, VoteCast, outcome)
	require.Len(t, store.votesFor(pollID), 1)

	outcome, err = r.CastVote(ctx, pollID, opts[1], user)
	require.NoError(t, err)
	assert.Equal(t, VoteChanged, outcome)
	votes := store.votesFor(pollID)
	require.Len(t, votes, 1)
	assert.Equal(t, opts[1], votes[0].OptionID)

	outcome, err = r.CastVote(ctx, pollID, opts[1], user)
	require.NoError(t, err)
	assert.Equal(t, VoteRetracted, outcome)
	assert.Empty(t, store.votesFor(pollID))

	require.Len(t, pub.events, 3)
	assert.Equal(t, changefeed.OpDelete, pub.events[2].Op)
	for _, ev := range pub.events {
		assert.Equal(t, changefeed.TableVotes, ev.Table)
		assert.Equal(t, pollID, ev.PollID)
	}
}

func TestCastVoteAtMostOnePerUser(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil, nil)
	pollID, opts := store.addPoll(4)
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}

	for i := 0; i < 20; i++ {
		_, err := r.CastVote(context.Background(), pollID, opts[i%len(opts)], users[i%len(users)])
		require.NoError(t, err)

		seen := make(map[uuid.UUID]bool)
		for _, v := range store.votesFor(pollID) {
			assert.False(t, seen[v.UserID], "user %s has two votes", v.UserID)
			seen[v.UserID] = true
		}
	}
}

func TestCastVoteRejectsOptionFromAnotherPoll(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil, nil)
	pollA, _ := store.addPoll(2)
	_, optsB := store.addPoll(2)

	_, err := r.CastVote(context.Background(), pollA, optsB[0], uuid.New())
	var pe *apperr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.True(t, pe.BadReference)
	assert.Empty(t, store.votesFor(pollA))
}

func TestCastVoteRequiresUserAndOption(t *testing.T) {
	r := NewReconciler(newMemStore(), nil, nil)

	_, err := r.CastVote(context.Background(), uuid.New(), uuid.New(), uuid.Nil)
	assert.True(t, apperr.IsAuthentication(err))

	_, err = r.CastVote(context.Background(), uuid.New(), uuid.Nil, uuid.New())
	assert.True(t, apperr.IsValidation(err))
}

func TestCastVoteFailedCommitLeavesStateUnchanged(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil, nil)
	pollID, opts := store.addPoll(2)
	user := uuid.New()

	_, err := r.CastVote(context.Background(), pollID, opts[0], user)
	require.NoError(t, err)

	store.failErr = errors.New("connection reset")
	_, err = r.CastVote(context.Background(), pollID, opts[1], user)
	var pe *apperr.PersistenceError
	require.ErrorAs(t, err, &pe)

	votes := store.votesFor(pollID)
	require.Len(t, votes, 1)
	assert.Equal(t, opts[0], votes[0].OptionID)
}

func TestToggleLikeTwiceRestoresState(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store, nil, nil)
	pollID, _ := store.addPoll(2)
	user, other := uuid.New(), uuid.New()

	_, err := r.ToggleLike(context.Background(), pollID, other)
	require.NoError(t, err)

	liked, err := r.ToggleLike(context.Background(), pollID, user)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 2, store.likeCount(pollID))

	liked, err = r.ToggleLike(context.Background(), pollID, user)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 1, store.likeCount(pollID))
}

func TestBusyGuard(t *testing.T) {
	store := newMemStore()
	store.gate = make(chan struct{})
	store.entered = make(chan struct{}, 4)
	r := NewReconciler(store, nil, nil)
	pollID, opts := store.addPoll(2)
	user, other := uuid.New(), uuid.New()

	done := make(chan error, 1)
	go func() {
		_, err := r.CastVote(context.Background(), pollID, opts[0], user)
		done <- err
	}()
	<-store.entered

	_, err := r.CastVote(context.Background(), pollID, opts[1], user)
	assert.ErrorIs(t, err, apperr.ErrBusy)
	_, err = r.ToggleLike(context.Background(), pollID, user)
	assert.ErrorIs(t, err, apperr.ErrBusy)

	otherDone := make(chan error, 1)
	go func() {
		_, err := r.ToggleLike(context.Background(), pollID, other)
		otherDone <- err
	}()
	<-store.entered

	close(store.gate)
	require.NoError(t, <-done)
	require.NoError(t, <-otherDone)

	// released after completion
	outcome, err := r.CastVote(context.Background(), pollID, opts[1], user)
	require.NoError(t, err)
	assert.Equal(t, VoteChanged, outcome)
}
