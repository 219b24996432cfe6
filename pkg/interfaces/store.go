package interfaces

import (
	"context"
	"time"
)

// SharedStore abstracts the clustered primitive every core component sits
// on top of: strings with TTL, a sorted set keyed by a float score, pub/sub
// channels, a cursor-paginated scan, and a fenced single-writer lock. A
// Redis-backed implementation lives in pkg/store; tests use the
// in-memory fake in the same package.
type SharedStore interface {
	// Set writes key=value with an optional TTL (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value for key, or ok=false if absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// ZAdd adds member to the sorted set at key with the given score.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRange returns members in [start, stop] rank order (0-indexed, inclusive).
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZRem atomically removes the given members, returning how many existed.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	// ZRemRangeByScore removes members scored in [min, max], returning the count removed.
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)
	// ZCard returns the member count of the sorted set at key.
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRank returns the 0-indexed rank of member, or ok=false if absent.
	ZRank(ctx context.Context, key, member string) (rank int64, ok bool, err error)

	// Publish fans out message to every current subscriber of channel.
	Publish(ctx context.Context, channel, message string) error
	// Subscribe returns a channel of messages published to channel until
	// the context is cancelled or Close is called on the returned Subscription.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Scan walks keys matching pattern, resuming from cursor (0 to start);
	// a returned cursor of 0 signals the scan is complete.
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (keys []string, nextCursor uint64, err error)

	// TryAcquire attempts to take the named lock for ttl, returning a token
	// that must be presented to Release. ok=false means someone else holds it.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees key only if token matches the current holder's token.
	Release(ctx context.Context, key, token string) error

	// Close releases any connections the store holds.
	Close() error
}

// Subscription is a live pub/sub subscription returned by SharedStore.Subscribe.
type Subscription interface {
	// Channel delivers published messages as they arrive.
	Channel() <-chan string
	// Close ends the subscription and releases its resources.
	Close() error
}
