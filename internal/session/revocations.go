package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	revokedPrefix  = "session:revoked:"
	signOutChannel = "session:signouts"
)

// ErrRevocationUnavailable is returned when the revocation store cannot be reached.
var ErrRevocationUnavailable = errors.New("session revocation store unavailable")

// RedisRevocations stores revoked token ids as expiring Redis keys and
// broadcasts sign-outs on a pub/sub channel.
type RedisRevocations struct {
	client *redis.Client
}

// NewRedisRevocations creates a Redis-backed revocation store.
func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

// Revoke marks tokenID as signed out for ttl.
func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, revokedPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenID was signed out.
func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)
	}
	return n > 0, nil
}

// PublishSignOut implements Broadcaster.
func (r *RedisRevocations) PublishSignOut(ctx context.Context, n SignOutNotice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, signOutChannel, body).Err()
}

// WatchSignOuts implements Broadcaster. Malformed messages are skipped.
func (r *RedisRevocations) WatchSignOuts(ctx context.Context, fn func(SignOutNotice)) error {
	pubsub := r.client.Subscribe(ctx, signOutChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", signOutChannel, err)
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n SignOutNotice
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil || n.TokenID == "" {
				continue
			}
			fn(n)
		}
	}
}
