package interfaces

import (
	"context"

	"pairbridge/pkg/types"
)

// UserRepository resolves user identity and ban state. The default
// implementation in pkg/collaborators is SQLite-backed; tests use an
// in-memory fake from the same package.
type UserRepository interface {
	// GetUsername returns the display name for userID, or "" if unknown.
	GetUsername(ctx context.Context, userID string) (string, error)
	// IsBanned reports whether userID is barred from connecting.
	IsBanned(ctx context.Context, userID string) (bool, error)
}

// FriendRepository backs friend:call by resolving whether two users are
// friends, independent of whether either is currently online.
type FriendRepository interface {
	AreFriends(ctx context.Context, userA, userB string) (bool, error)
}

// ReportRepository persists abuse reports raised over report:user.
type ReportRepository interface {
	CreateReport(ctx context.Context, report *types.Report) error
}

// AuthClient validates the token presented on connection and returns the
// authenticated user's ID.
type AuthClient interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// MetricsSink receives point-in-time counters the core emits; a
// production implementation might forward these to StatsD or Prometheus,
// but the core never depends on the transport.
type MetricsSink interface {
	IncrCounter(name string, tags map[string]string)
	ObserveDuration(name string, tags map[string]string, d float64)
}
