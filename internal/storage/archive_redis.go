package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRollupStore persists archived records in Redis under
// "<prefix>:<site>:<period>:<start>:<end>:<segment>:<record>".
type RedisRollupStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRollupStore creates a Redis-backed rollup store. A zero ttl keeps
// records until they are overwritten by a rebuild.
func NewRedisRollupStore(client *redis.Client, prefix string, ttl time.Duration) *RedisRollupStore {
	if prefix == "" {
		prefix = "archive"
	}
	return &RedisRollupStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisRollupStore) key(k ArchiveKey) string {
	return s.prefix + ":" + k.String()
}

func (s *RedisRollupStore) PutBlob(ctx context.Context, key ArchiveKey, blob []byte) error {
	if err := s.client.Set(ctx, s.key(key), blob, s.ttl).Err(); err != nil {
		return unavailable("put blob "+key.Record, err)
	}
	return nil
}

func (s *RedisRollupStore) GetBlob(ctx context.Context, key ArchiveKey) ([]byte, bool, error) {
	blob, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get blob "+key.Record, err)
	}
	return blob, true, nil
}

func (s *RedisRollupStore) PutNumeric(ctx context.Context, key ArchiveKey, value float64) error {
	v := strconv.FormatFloat(value, 'f', -1, 64)
	if err := s.client.Set(ctx, s.key(key), v, s.ttl).Err(); err != nil {
		return unavailable("put numeric "+key.Record, err)
	}
	return nil
}

func (s *RedisRollupStore) GetNumeric(ctx context.Context, key ArchiveKey) (float64, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get numeric "+key.Record, err)
	}
	return v, true, nil
}
