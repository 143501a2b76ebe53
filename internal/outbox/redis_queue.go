package outbox

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey = "effects:pending"
	deadKey    = "effects:dead"
)

type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Push(ctx context.Context, e Effect) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, pendingKey, data).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (*Effect, error) {
	data, err := q.client.RPop(ctx, pendingKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Effect
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Bury parks an effect that exhausted its retries for manual reconciliation.
func (q *RedisQueue) Bury(ctx context.Context, e Effect) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, deadKey, data).Err()
}
