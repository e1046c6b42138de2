package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps preferences in a single hash so they can be shared by
// several client instances of the same rider.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(addr, password, riderID string) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, key: prefsKey(riderID)}
}

func (r *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (r *RedisStore) Save(ctx context.Context, key string, value []byte) error {
	return r.client.HSet(ctx, r.key, key, value).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

func prefsKey(riderID string) string {
	if riderID == "" {
		return "rider:prefs"
	}
	return "rider:prefs:" + riderID
}
