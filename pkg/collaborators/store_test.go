package collaborators

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbridge/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxConnections:  5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetUsernameUnknownUserReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	name, err := s.GetUsername(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, "", name)
}

func TestUpsertUserThenGetUsernameAndBanned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, "alice", "Alice", false))

	name, err := s.GetUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)

	banned, err := s.IsBanned(ctx, "alice")
	require.NoError(t, err)
	require.False(t, banned)

	require.NoError(t, s.UpsertUser(ctx, "alice", "Alice", true))
	banned, err = s.IsBanned(ctx, "alice")
	require.NoError(t, err)
	require.True(t, banned)
}

func TestAreFriendsIsSymmetric(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AddFriend(ctx, "alice", "bob"))

	ok, err := s.AreFriends(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AreFriends(ctx, "bob", "alice")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AreFriends(ctx, "alice", "carol")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateReportPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID := "sess-1"
	report := &types.Report{
		ID:         "r1",
		ReporterID: "alice",
		ReportedID: "bob",
		SessionID:  &sessionID,
		Reason:     "spam",
		CreatedAt:  time.Now(),
		Status:     "open",
	}
	require.NoError(t, s.CreateReport(ctx, report))

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports WHERE id = ?", "r1").Scan(&count))
	require.Equal(t, 1, count)
}

func TestHealthCheckOnOpenStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	m.SetUsername("alice", "Alice")
	m.SetBanned("bob", true)
	m.SetFriends("alice", "bob")

	name, _ := m.GetUsername(ctx, "alice")
	require.Equal(t, "Alice", name)

	banned, _ := m.IsBanned(ctx, "bob")
	require.True(t, banned)

	friends, _ := m.AreFriends(ctx, "bob", "alice")
	require.True(t, friends)

	require.NoError(t, m.CreateReport(ctx, &types.Report{ID: "r1", ReporterID: "alice", ReportedID: "bob"}))
	require.Len(t, m.Reports(), 1)
}
