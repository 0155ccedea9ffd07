package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the identity in Redis with an expiry, the cookie-equivalent
// for headless clients.
type RedisStore struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisStore builds a store keyed per room so identities in different rooms
// do not clobber each other.
func NewRedisStore(rdb *redis.Client, roomID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		key: "identity:" + roomID,
		ttl: ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoIdentity
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, userID string) error {
	return s.rdb.Set(ctx, s.key, userID, s.ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key).Err()
}
