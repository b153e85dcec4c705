// Package changefeed delivers row-level change notifications for polls, votes
// and likes to in-process subscribers.
package changefeed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Table names a watched table.
type Table string

const (
	TablePolls Table = "polls"
	TableVotes Table = "votes"
	TableLikes Table = "likes"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event reports that a row of Table belonging to PollID changed.
type Event struct {
	Table  Table     `json:"table"`
	Op     Op        `json:"op"`
	PollID uuid.UUID `json:"poll_id"`
}

// Filter scopes a subscription. A zero PollID matches every poll.
type Filter struct {
	PollID uuid.UUID
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	return f.PollID == uuid.Nil || f.PollID == ev.PollID
}

// Handle identifies a subscription for Unsubscribe.
type Handle uint64

// Publisher announces a committed write. Used when the store does not emit notifications itself.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops events; used when database triggers already emit them.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Source produces events until ctx is done.
type Source interface {
	Run(ctx context.Context, sink func(Event)) error
}

type subscription struct {
	filter Filter
	fn     func(Event)
}

// Hub maintains table -> subscriptions and dispatches events to matching ones.
type Hub struct {
	mu     sync.RWMutex
	tables map[Table]map[Handle]*subscription
	next   Handle
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		tables: make(map[Table]map[Handle]*subscription),
		logger: logger,
	}
}

// Subscribe calls fn for every event on table that passes filter. fn must not block.
func (h *Hub) Subscribe(table Table, filter Filter, fn func(Event)) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	if h.tables[table] == nil {
		h.tables[table] = make(map[Handle]*subscription)
	}
	h.tables[table][id] = &subscription{filter: filter, fn: fn}
	h.logger.Debug("changefeed subscribe", zap.String("table", string(table)), zap.String("poll_id", filter.PollID.String()))
	return id
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (h *Hub) Unsubscribe(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for table, subs := range h.tables {
		if _, ok := subs[id]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.tables, table)
			}
			return
		}
	}
}

// Dispatch delivers ev to every matching subscription.
func (h *Hub) Dispatch(ev Event) {
	h.mu.RLock()
	var fns []func(Event)
	for _, s := range h.tables[ev.Table] {
		if s.filter.Match(ev) {
			fns = append(fns, s.fn)
		}
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Count returns the number of open subscriptions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.tables {
		n += len(subs)
	}
	return n
}

// Run feeds events from src into the hub until ctx is done.
func (h *Hub) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, h.Dispatch)
}
