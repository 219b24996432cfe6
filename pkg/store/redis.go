// Package store provides SharedStore implementations: a Redis-backed one
// for production and an in-memory one for tests.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"

	"pairbridge/pkg/interfaces"
	"time"
)

// releaseScript deletes key only if its value still matches token,
// giving fenced single-writer discipline: a caller can only release a
// lock it still holds.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements interfaces.SharedStore on top of a single Redis
// client, grounded on the Redis session/chat store wiring in
// aungmyooo2k17-whisper-chat's matching server.
type RedisStore struct {
	client  *redis.Client
	release *redis.Script
}

// NewRedisStore dials addr and returns a ready SharedStore. The caller owns
// the returned store's lifetime and must call Close on shutdown.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client, release: redis.NewScript(releaseScript)}, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.ZRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.ZRem(ctx, key, args...).Result()
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	return s.client.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Result()
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.client.ZCard(ctx, key).Result()
}

func (s *RedisStore) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := s.client.ZRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rank, true, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, channel, message).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (interfaces.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, err
	}
	out := make(chan string, 64)
	native := pubsub.Channel()
	go func() {
		defer close(out)
		for msg := range native {
			out <- msg.Payload
		}
	}()
	return &redisSubscription{pubsub: pubsub, ch: out}, nil
}

func (s *RedisStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	keys, next, err := s.client.Scan(ctx, cursor, pattern, count).Result()
	if err != nil {
		return nil, 0, err
	}
	return keys, next, nil
}

// TryAcquire uses SET key token NX EX ttl, Redis's standard single-writer
// lock idiom: the write only succeeds if no one else holds the key.
func (s *RedisStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, err := randomToken()
	if err != nil {
		return "", false, err
	}
	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (s *RedisStore) Release(ctx context.Context, key, token string) error {
	return s.release.Run(ctx, s.client, []string{key}, token).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan string
}

func (r *redisSubscription) Channel() <-chan string { return r.ch }

func (r *redisSubscription) Close() error {
	return r.pubsub.Close()
}

var _ interfaces.SharedStore = (*RedisStore)(nil)
