package tokens

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry stores each user's device tokens as a Redis set, so
// registration and deletion are naturally idempotent.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func key(userID string) string {
	return "tokens:" + userID
}

func (r *RedisRegistry) ListTokens(ctx context.Context, userID string) ([]string, error) {
	toks, err := r.rdb.SMembers(ctx, key(userID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(toks)
	return toks, nil
}

func (r *RedisRegistry) RegisterToken(ctx context.Context, userID, token string) error {
	return r.rdb.SAdd(ctx, key(userID), token).Err()
}

func (r *RedisRegistry) DeleteToken(ctx context.Context, userID, token string) error {
	return r.rdb.SRem(ctx, key(userID), token).Err()
}
