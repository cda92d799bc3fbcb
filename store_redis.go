package sessionx

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "printeasy:session:"

// RedisStore keeps session values in Redis under a key prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	log    *slog.Logger
}

// NewRedisStore returns a store writing through client. An empty prefix
// selects "printeasy:session:".
func NewRedisStore(client redis.UniversalClient, prefix string, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, log: log.With(slog.String("store", "redis"))}
}

func newRedisClient(cfg StoreConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// Get reads the prefixed key. Redis errors are logged and reported as a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.log.Warn("redis get", slog.String("key", key), errAttr(err))
		return "", false
	}
	return v, true
}

// Set writes the prefixed key without expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		s.log.Warn("redis set", slog.String("key", key), errAttr(err))
	}
}

// SetMany writes all values inside one MULTI/EXEC transaction.
func (s *RedisStore) SetMany(ctx context.Context, values map[string]string) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.prefix+k, v, 0)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("redis set many", errAttr(err))
	}
}

// Remove deletes the prefixed key.
func (s *RedisStore) Remove(ctx context.Context, key string) {
	s.RemoveMany(ctx, key)
}

// RemoveMany deletes keys with a single DEL.
func (s *RedisStore) RemoveMany(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		s.log.Warn("redis delete", errAttr(err))
	}
}

// Clear deletes every key under the store prefix.
func (s *RedisStore) Clear(ctx context.Context) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.log.Warn("redis scan", errAttr(err))
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn("redis clear", errAttr(err))
	}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
