package models

import (
	"time"

	"github.com/google/uuid"
)

// Poll is a question with an ordered set of options. Immutable once created.
type Poll struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Question  string    `json:"question" db:"question"`
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PollOption is one candidate answer; OptionOrder is its zero-based display position.
type PollOption struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PollID      uuid.UUID `json:"poll_id" db:"poll_id"`
	OptionText  string    `json:"option_text" db:"option_text"`
	OptionOrder int       `json:"option_order" db:"option_order"`
}

// PollWithOptions is a poll together with its options in display order.
type PollWithOptions struct {
	Poll
	Options []PollOption `json:"options"`
}

// Vote is a user's current choice within a poll. At most one per (poll, user).
type Vote struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PollID    uuid.UUID `json:"poll_id" db:"poll_id"`
	OptionID  uuid.UUID `json:"option_id" db:"option_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Like marks a poll as liked by a user; the row's presence is the only signal.
type Like struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PollID    uuid.UUID `json:"poll_id" db:"poll_id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
