// Package realtime serves live poll views over WebSocket. Each connection owns
// one View that re-fetches and pushes the full poll state whenever its own
// action completes or the change feed reports a write.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/changefeed"
	"github.com/quickpoll/backend/internal/reactions"
)

// Server to client events.
const (
	EventSnapshot     = "snapshot"
	EventActionResult = "action_result"
	EventSignedOut    = "signed_out"
	EventError        = "error"
)

// Client to server events.
const (
	EventVote = "vote"
	EventLike = "like"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ActionRequest is the data of a vote or like message. Token is chosen by the
// client and must increase with every action it sends.
type ActionRequest struct {
	Token    uint64    `json:"token"`
	PollID   uuid.UUID `json:"poll_id"`
	OptionID uuid.UUID `json:"option_id"`

	kind string
}

// ActionResult is pushed for the latest action only.
type ActionResult struct {
	Token   uint64                `json:"token"`
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Outcome reactions.VoteOutcome `json:"outcome,omitempty"`
	Liked   *bool                 `json:"liked,omitempty"`
}

// Actions applies votes and likes. *reactions.Reconciler implements it.
type Actions interface {
	CastVote(ctx context.Context, pollID, optionID, userID uuid.UUID) (reactions.VoteOutcome, error)
	ToggleLike(ctx context.Context, pollID, userID uuid.UUID) (bool, error)
}

// Feed registers change subscriptions. *changefeed.Hub implements it.
type Feed interface {
	Subscribe(table changefeed.Table, filter changefeed.Filter, fn func(changefeed.Event)) changefeed.Handle
	Unsubscribe(id changefeed.Handle)
}

// FetchFunc reads the current state shown by a view.
type FetchFunc func(ctx context.Context) (interface{}, error)

// SendFunc queues a message for the client. It must not block.
type SendFunc func(event string, payload interface{})

// View is the state machine behind one live connection. All of its state is
// owned by the goroutine running Run.
type View struct {
	pollID  uuid.UUID // uuid.Nil for the poll list
	userID  uuid.UUID
	actions Actions
	feed    Feed
	fetch   FetchFunc
	send    SendFunc
	logger  *zap.Logger

	requests chan ActionRequest
	results  chan ActionResult
	remote   chan struct{}
	done     chan struct{}

	latest uint64
}

// NewView creates a view. pollID scopes it to one poll; uuid.Nil makes it a list view.
func NewView(pollID, userID uuid.UUID, actions Actions, feed Feed, fetch FetchFunc, send SendFunc, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &View{
		pollID:   pollID,
		userID:   userID,
		actions:  actions,
		feed:     feed,
		fetch:    fetch,
		send:     send,
		logger:   logger,
		requests: make(chan ActionRequest),
		results:  make(chan ActionResult, 8),
		remote:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run subscribes to the change feed, pushes the first snapshot and serves the
// view until ctx is done. Subscriptions are removed before Run returns.
func (v *View) Run(ctx context.Context) {
	defer close(v.done)
	for _, h := range v.subscribe() {
		defer v.feed.Unsubscribe(h)
	}

	v.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-v.requests:
			v.latest = req.Token
			go v.execute(ctx, req)
		case res := <-v.results:
			if res.Token != v.latest {
				v.logger.Debug("discarding stale action result", zap.Uint64("token", res.Token), zap.Uint64("latest", v.latest))
				continue
			}
			v.send(EventActionResult, res)
			if res.OK {
				v.refresh(ctx)
			}
		case <-v.remote:
			v.refresh(ctx)
		}
	}
}

// Vote queues a vote. It returns false once the view has stopped.
func (v *View) Vote(req ActionRequest) bool {
	req.kind = EventVote
	return v.submit(req)
}

// Like queues a like toggle. It returns false once the view has stopped.
func (v *View) Like(req ActionRequest) bool {
	req.kind = EventLike
	return v.submit(req)
}

// Notify asks for a refresh. Calls made while one is pending are merged into it.
func (v *View) Notify() {
	select {
	case v.remote <- struct{}{}:
	default:
	}
}

func (v *View) submit(req ActionRequest) bool {
	select {
	case v.requests <- req:
		return true
	case <-v.done:
		return false
	}
}

func (v *View) subscribe() []changefeed.Handle {
	onEvent := func(changefeed.Event) { v.Notify() }
	// The list renders tallies and like counts for every poll, so it follows all three tables unscoped.
	scope := changefeed.Filter{PollID: v.pollID}
	return []changefeed.Handle{
		v.feed.Subscribe(changefeed.TablePolls, scope, onEvent),
		v.feed.Subscribe(changefeed.TableVotes, scope, onEvent),
		v.feed.Subscribe(changefeed.TableLikes, scope, onEvent),
	}
}

// execute runs on its own goroutine. The write is not cancelled when the view
// closes; its result is dropped instead.
func (v *View) execute(ctx context.Context, req ActionRequest) {
	ctx = context.WithoutCancel(ctx)
	res := ActionResult{Token: req.Token}

	pollID := req.PollID
	if v.pollID != uuid.Nil {
		pollID = v.pollID
	}

	var err error
	switch {
	case pollID == uuid.Nil:
		err = apperr.Invalid("poll_id", "poll is required")
	case req.kind == EventVote:
		res.Outcome, err = v.actions.CastVote(ctx, pollID, req.OptionID, v.userID)
	default:
		var liked bool
		liked, err = v.actions.ToggleLike(ctx, pollID, v.userID)
		res.Liked = &liked
	}
	if err != nil {
		res.Error = err.Error()
		res.Liked = nil
	} else {
		res.OK = true
	}

	select {
	case v.results <- res:
	case <-v.done:
	}
}

func (v *View) refresh(ctx context.Context) {
	state, err := v.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			v.logger.Warn("live view refresh failed", zap.Error(err), zap.String("poll_id", v.pollID.String()))
			v.send(EventError, map[string]string{"error": "failed to load poll"})
		}
		return
	}
	v.send(EventSnapshot, state)
}
