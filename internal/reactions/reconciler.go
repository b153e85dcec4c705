// Package reactions records votes and likes. A user holds at most one vote
// per poll; casting the same option again retracts it.
package reactions

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/changefeed"
)

// VoteOutcome describes what CastVote did.
type VoteOutcome string

const (
	VoteCast      VoteOutcome = "cast"
	VoteChanged   VoteOutcome = "changed"
	VoteRetracted VoteOutcome = "retracted"
)

type actionKey struct {
	pollID uuid.UUID
	userID uuid.UUID
}

// Reconciler applies vote and like actions against the store.
type Reconciler struct {
	store     Store
	publisher changefeed.Publisher
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[actionKey]struct{}
}

// NewReconciler creates a reconciler. publisher may be nil when database triggers emit changes.
func NewReconciler(store Store, publisher changefeed.Publisher, logger *zap.Logger) *Reconciler {
	if publisher == nil {
		publisher = changefeed.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     store,
		publisher: publisher,
		logger:    logger,
		inFlight:  make(map[actionKey]struct{}),
	}
}

// CastVote records userID's vote for optionID on pollID, replacing or retracting
// any earlier vote by the same user.
func (r *Reconciler) CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (VoteOutcome, error) {
	if userID == uuid.Nil {
		return "", apperr.ErrNotAuthenticated
	}
	if optionID == uuid.Nil {
		return "", apperr.Invalid("option_id", "option is required")
	}
	release, err := r.acquire(pollID, userID)
	if err != nil {
		return "", err
	}
	defer release()

	var outcome VoteOutcome
	err = r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.FindVote(ctx, pollID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := tx.DeleteVote(ctx, existing.ID); err != nil {
				return err
			}
			if existing.OptionID == optionID {
				outcome = VoteRetracted
				return nil
			}
			outcome = VoteChanged
		} else {
			outcome = VoteCast
		}
		return tx.InsertVote(ctx, pollID, optionID, userID)
	})
	if err != nil {
		return "", apperr.Persistence("cast vote", err)
	}

	op := changefeed.OpInsert
	if outcome == VoteRetracted {
		op = changefeed.OpDelete
	}
	r.publish(ctx, changefeed.Event{Table: changefeed.TableVotes, Op: op, PollID: pollID})
	r.logger.Debug("vote reconciled",
		zap.String("poll_id", pollID.String()),
		zap.String("user_id", userID.String()),
		zap.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// ToggleLike flips userID's like on pollID and reports whether the poll is now liked.
func (r *Reconciler) ToggleLike(ctx context.Context, pollID, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, apperr.ErrNotAuthenticated
	}
	release, err := r.acquire(pollID, userID)
	if err != nil {
		return false, err
	}
	defer release()

	var liked bool
	err = r.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.FindLike(ctx, pollID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			liked = false
			return tx.DeleteLike(ctx, existing.ID)
		}
		liked = true
		return tx.InsertLike(ctx, pollID, userID)
	})
	if err != nil {
		return false, apperr.Persistence("toggle like", err)
	}

	op := changefeed.OpInsert
	if !liked {
		op = changefeed.OpDelete
	}
	r.publish(ctx, changefeed.Event{Table: changefeed.TableLikes, Op: op, PollID: pollID})
	return liked, nil
}

// acquire marks (pollID, userID) busy. Overlapping calls for the same key get apperr.ErrBusy.
func (r *Reconciler) acquire(pollID, userID uuid.UUID) (func(), error) {
	key := actionKey{pollID: pollID, userID: userID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return nil, apperr.ErrBusy
	}
	r.inFlight[key] = struct{}{}
	return func() {
		r.mu.Lock()
		delete(r.inFlight, key)
		r.mu.Unlock()
	}, nil
}

func (r *Reconciler) publish(ctx context.Context, ev changefeed.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish change", zap.Error(err), zap.String("table", string(ev.Table)))
	}
}
