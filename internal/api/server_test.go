package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbridge/internal/fleet"
	"pairbridge/internal/queue"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/store"
	"pairbridge/pkg/types"
)

type fakePresenceConn struct {
	socketID, userID string
}

func (c *fakePresenceConn) WriteEnvelope(types.Envelope, bool) error { return nil }
func (c *fakePresenceConn) Close() error                             { return nil }
func (c *fakePresenceConn) SocketID() string                         { return c.socketID }
func (c *fakePresenceConn) UserID() string                           { return c.userID }
func (c *fakePresenceConn) SetUserID(userID string)                  { c.userID = userID }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	ss := store.NewMemoryStore()
	fc := fleet.New(ss, "localhost", 8080, time.Minute, time.Hour)
	require.NoError(t, fc.Start(ctx))
	sr := socketreg.New(ss, fc.InstanceID(), time.Minute)
	require.NoError(t, sr.Start(ctx))
	qm := queue.New(ss, nil, time.Minute, 5*time.Second)
	return NewServer(ss, fc, sr, qm)
}

func TestHealthCheckReportsHealthy(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.True(t, resp.AcceptingConnections)
}

func TestStatsReportsQueueSizesAndConnections(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/stats", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.ActiveConnections)
	require.Contains(t, resp.QueueSizes, "video")
	require.Contains(t, resp.QueueSizes, "audio")
	require.Contains(t, resp.QueueSizes, "text")
}

func TestInstancesListsSelf(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/instances", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp InstancesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Instances, 1)
}

func TestPresenceReportsOnlineForRegisteredUser(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.sr.Register(ctx, &fakePresenceConn{socketID: "s1", userID: "alice"}))

	req := httptest.NewRequest("GET", "/api/presence?user_id=alice", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Online)
	require.Contains(t, resp.Instances, s.fc.InstanceID())
}

func TestPresenceReportsOfflineForUnknownUser(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/presence?user_id=nobody", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	var resp PresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Online)
	require.Empty(t, resp.Instances)
}

func TestPresenceRequiresUserID(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/presence", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 400, w.Code)
}

func TestCORSMiddlewareSetsHeadersOnPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/stats", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
