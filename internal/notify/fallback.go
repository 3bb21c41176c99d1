package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const fallbackKeyPrefix = "notification:"

// Queue holds serialized notifications for recipients who were offline at
// dispatch time, newest first, until they reconnect.
type Queue interface {
	Push(ctx context.Context, notification Notification) error
	Drain(ctx context.Context, recipientID string) ([]Notification, error)
}

// RedisQueue implements Queue on the shared cache store, one list per
// recipient under `notification:{recipientId}`.
type RedisQueue struct {
	cache redis.Cmdable
}

// NewRedisQueue constructs the fallback queue over the cache store.
func NewRedisQueue(cache redis.Cmdable) (*RedisQueue, error) {
	if cache == nil {
		return nil, fmt.Errorf("notify: cache client is required")
	}
	return &RedisQueue{cache: cache}, nil
}

func fallbackKey(recipientID string) string {
	return fallbackKeyPrefix + recipientID
}

// Push prepends the serialized notification to the recipient's list.
func (q *RedisQueue) Push(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("notify: serialize fallback entry: %w", err)
	}
	if err := q.cache.LPush(ctx, fallbackKey(notification.RecipientID), payload).Err(); err != nil {
		return fmt.Errorf("notify: queue fallback entry: %w", err)
	}
	return nil
}

// Drain returns the recipient's queued notifications newest first and clears
// the list. Entries that fail to decode are dropped rather than wedging the
// reconnect; the persisted rows remain the durable record.
func (q *RedisQueue) Drain(ctx context.Context, recipientID string) ([]Notification, error) {
	key := fallbackKey(recipientID)
	pipe := q.cache.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("notify: drain fallback queue: %w", err)
	}

	raw := rangeCmd.Val()
	out := make([]Notification, 0, len(raw))
	for _, entry := range raw {
		var notification Notification
		if err := json.Unmarshal([]byte(entry), &notification); err != nil {
			continue
		}
		out = append(out, notification)
	}
	return out, nil
}
