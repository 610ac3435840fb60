package redis

import (
	"context"
	"fmt"
	"time"
)

// TriggerLimiter caps manual checkpoint triggers per fixed window across instances.
type TriggerLimiter struct {
	client *Client
	limit  int
	window time.Duration
}

func NewTriggerLimiter(client *Client, limit int, window time.Duration) *TriggerLimiter {
	return &TriggerLimiter{client: client, limit: limit, window: window}
}

// Allow counts one trigger of kind and reports whether it is within the limit.
func (r *TriggerLimiter) Allow(ctx context.Context, kind string) (bool, error) {
	key := ManualTriggerKey(kind)
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window); err != nil {
			return false, err
		}
	}

	return count <= int64(r.limit), nil
}

func ManualTriggerKey(kind string) string {
	return fmt.Sprintf("%strigger:%s", KeyPrefix, kind)
}
