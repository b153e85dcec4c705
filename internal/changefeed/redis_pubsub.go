package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// redisPayload is the message published to Redis for cross-instance fan-out.
type redisPayload struct {
	Event
	At int64 `json:"at"`
}

// RedisPubSub publishes events to a Redis channel and feeds received ones to a sink.
// It serves as both Publisher and Source when CHANGEFEED_SOURCE=redis.
type RedisPubSub struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for change events.
func NewRedisPubSub(client *redis.Client, channel string, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, channel: channel, logger: logger}
}

// Publish sends ev to every instance subscribed to the channel.
func (r *RedisPubSub) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(redisPayload{Event: ev, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Run subscribes to the channel and calls sink for each event until ctx is done.
func (r *RedisPubSub) Run(ctx context.Context, sink func(Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	r.logger.Info("changefeed subscribed", zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("changefeed bad payload", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			sink(ev)
		}
	}
}
