package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/push-dispatch/internal/model"
)

var ErrNotTerminal = errors.New("only terminal notification requests can be cached")

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(id string) string {
	return "notif:" + id
}

func (c *RedisCache) StoreFinal(ctx context.Context, req model.NotificationRequest) error {
	if !req.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, req.ID, req.Status)
	}

	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key(req.ID), b, c.ttl).Err()
}

func (c *RedisCache) GetFinal(ctx context.Context, id string) (*model.NotificationRequest, bool, error) {
	raw, err := c.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var req model.NotificationRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", id, err)
	}
	return &req, true, nil
}
