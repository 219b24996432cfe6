package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbridge/internal/queue"
	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/store"
	"pairbridge/pkg/types"
)

type fakeConn struct {
	mu       sync.Mutex
	socketID string
	userID   string
	received []types.Envelope
}

func newFakeConn(socketID, userID string) *fakeConn {
	return &fakeConn{socketID: socketID, userID: userID}
}

func (c *fakeConn) WriteEnvelope(env types.Envelope, critical bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, env)
	return nil
}
func (c *fakeConn) Close() error           { return nil }
func (c *fakeConn) SocketID() string       { return c.socketID }
func (c *fakeConn) UserID() string         { return c.userID }
func (c *fakeConn) SetUserID(userID string) { c.userID = userID }

func (c *fakeConn) envelopeTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.received {
		out = append(out, e.Type)
	}
	return out
}

var _ interfaces.Connection = (*fakeConn)(nil)

func newTestEngine(t *testing.T) (*Engine, *queue.Manager, *sessionmgr.Manager, *socketreg.Registry) {
	t.Helper()
	ss := store.NewMemoryStore()
	qm := queue.New(ss, nil, time.Minute, 5*time.Second)
	sm := sessionmgr.New(ss, nil, time.Hour, 30*time.Minute, 3*time.Second)
	sr := socketreg.New(ss, "instance-1", time.Minute)
	require.NoError(t, sr.Start(context.Background()))
	e := New(ss, qm, sm, sr, nil, nil, 20*time.Millisecond)
	require.NoError(t, e.Start(context.Background()))
	return e, qm, sm, sr
}

func TestQuickMatchPairsSecondArrival(t *testing.T) {
	e, _, sm, sr := newTestEngine(t)
	defer e.Stop()
	ctx := context.Background()

	connA := newFakeConn("sockA", "alice")
	connB := newFakeConn("sockB", "bob")
	require.NoError(t, sr.Register(ctx, connA))
	require.NoError(t, sr.Register(ctx, connB))

	require.NoError(t, e.QuickMatch(ctx, "alice", "sockA", types.ModalityVideo))
	require.NoError(t, e.QuickMatch(ctx, "bob", "sockB", types.ModalityVideo))

	require.Eventually(t, func() bool {
		partner, ok, _ := sm.PartnerOf(ctx, "alice")
		return ok && partner == "bob"
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		for _, typ := range connA.envelopeTypes() {
			if typ == types.OutMatchFound {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestCancelRemovesFromQueue(t *testing.T) {
	e, qm, _, sr := newTestEngine(t)
	defer e.Stop()
	ctx := context.Background()

	conn := newFakeConn("sockA", "alice")
	require.NoError(t, sr.Register(ctx, conn))

	require.NoError(t, e.QuickMatch(ctx, "alice", "sockA", types.ModalityVideo))
	require.NoError(t, e.Cancel(ctx, "alice", types.ModalityVideo))

	pos, err := qm.Position(ctx, "alice", types.ModalityVideo)
	require.NoError(t, err)
	require.Equal(t, 0, pos)
}

func TestStatusReportsQueuePosition(t *testing.T) {
	e, _, _, sr := newTestEngine(t)
	defer e.Stop()
	ctx := context.Background()

	connA := newFakeConn("sockA", "alice")
	connC := newFakeConn("sockC", "carol")
	require.NoError(t, sr.Register(ctx, connA))
	require.NoError(t, sr.Register(ctx, connC))

	require.NoError(t, e.QuickMatch(ctx, "alice", "sockA", types.ModalityText))
	require.NoError(t, e.QuickMatch(ctx, "carol", "sockC", types.ModalityVideo))

	status, err := e.Status(ctx, "carol")
	require.NoError(t, err)
	require.True(t, status.InQueue)
	require.Equal(t, types.ModalityVideo, status.Modality)
	require.Equal(t, 1, status.Position)
}

func TestWithFriendRejectsIfEitherActive(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	defer e.Stop()
	ctx := context.Background()

	session, err := e.WithFriend(ctx, "alice", "bob", types.ModalityAudio)
	require.NoError(t, err)
	require.NotNil(t, session)

	again, err := e.WithFriend(ctx, "alice", "carol", types.ModalityAudio)
	require.NoError(t, err)
	require.Nil(t, again, "alice already has an active session")
}

func TestSafetyTickDrainsQueueEventually(t *testing.T) {
	e, qm, sm, sr := newTestEngine(t)
	defer e.Stop()
	ctx := context.Background()

	connA := newFakeConn("sockA", "alice")
	connB := newFakeConn("sockB", "bob")
	require.NoError(t, sr.Register(ctx, connA))
	require.NoError(t, sr.Register(ctx, connB))

	// Enqueue directly through the Queue Manager, bypassing QuickMatch's own
	// immediate pairing attempt, so only the background safety tick can pair them.
	_, err := qm.Enqueue(ctx, "alice", "sockA", types.ModalityVideo)
	require.NoError(t, err)
	_, err = qm.Enqueue(ctx, "bob", "sockB", types.ModalityVideo)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		partner, ok, _ := sm.PartnerOf(ctx, "alice")
		return ok && partner == "bob"
	}, time.Second, 10*time.Millisecond)
}
