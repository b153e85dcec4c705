package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGChannel is the NOTIFY channel written by the change triggers.
const PGChannel = "quickpoll_changes"

// PGListener turns Postgres NOTIFY payloads into events.
type PGListener struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	backoff time.Duration
}

// NewPGListener creates a listener on PGChannel.
func NewPGListener(pool *pgxpool.Pool, logger *zap.Logger) *PGListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGListener{pool: pool, logger: logger, backoff: 2 * time.Second}
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *PGListener) Run(ctx context.Context, sink func(Event)) error {
	for {
		err := l.listen(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("changefeed listener disconnected", zap.Error(err), zap.Duration("retry_in", l.backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *PGListener) listen(ctx context.Context, sink func(Event)) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// The connection keeps LISTEN state, so it never goes back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{PGChannel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("changefeed listening", zap.String("channel", PGChannel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		ev, err := DecodeEvent([]byte(n.Payload))
		if err != nil {
			l.logger.Warn("changefeed bad payload", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		sink(ev)
	}
}

// DecodeEvent parses a JSON change payload.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, err
	}
	switch ev.Table {
	case TablePolls, TableVotes, TableLikes:
	default:
		return Event{}, fmt.Errorf("unknown table %q", ev.Table)
	}
	return ev, nil
}
