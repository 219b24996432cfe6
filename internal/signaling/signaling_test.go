package signaling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/store"
	"pairbridge/pkg/types"
)

type fakeConn struct {
	socketID string
	userID   string
	received []types.Envelope
}

func (c *fakeConn) WriteEnvelope(env types.Envelope, critical bool) error {
	c.received = append(c.received, env)
	return nil
}
func (c *fakeConn) Close() error            { return nil }
func (c *fakeConn) SocketID() string        { return c.socketID }
func (c *fakeConn) UserID() string          { return c.userID }
func (c *fakeConn) SetUserID(userID string) { c.userID = userID }

var _ interfaces.Connection = (*fakeConn)(nil)

func newTestRelay(t *testing.T) (*Relay, *sessionmgr.Manager, *socketreg.Registry) {
	t.Helper()
	ss := store.NewMemoryStore()
	sm := sessionmgr.New(ss, nil, time.Hour, 30*time.Minute, 3*time.Second)
	sr := socketreg.New(ss, "instance-1", time.Minute)
	require.NoError(t, sr.Start(context.Background()))
	return New(sm, sr), sm, sr
}

func TestChatMessageDeliversToPartner(t *testing.T) {
	r, sm, sr := newTestRelay(t)
	ctx := context.Background()

	connB := &fakeConn{socketID: "sockB", userID: "bob"}
	require.NoError(t, sr.Register(ctx, connB))

	_, err := sm.Create(ctx, types.ModalityText, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, r.ChatMessage(ctx, "alice", "hello"))
	require.Len(t, connB.received, 1)
	require.Equal(t, types.OutChatMessage, connB.received[0].Type)
}

func TestChatMessageRejectsEmptyText(t *testing.T) {
	r, sm, _ := newTestRelay(t)
	ctx := context.Background()

	_, err := sm.Create(ctx, types.ModalityText, "alice", "bob")
	require.NoError(t, err)

	err = r.ChatMessage(ctx, "alice", "")
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestChatMessageRejectsNoSession(t *testing.T) {
	r, _, _ := newTestRelay(t)
	err := r.ChatMessage(context.Background(), "alice", "hi")
	require.True(t, errors.Is(err, types.ErrNotInSession))
}

func TestCallICEDropsSilentlyWithoutPartner(t *testing.T) {
	r, _, _ := newTestRelay(t)
	err := r.CallICE(context.Background(), "alice", []byte(`{"candidate":"x"}`))
	require.NoError(t, err)
}

func TestSkipNotifiesPartnerAndEndsSession(t *testing.T) {
	r, sm, sr := newTestRelay(t)
	ctx := context.Background()

	connB := &fakeConn{socketID: "sockB", userID: "bob"}
	require.NoError(t, sr.Register(ctx, connB))

	_, err := sm.Create(ctx, types.ModalityVideo, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, r.Skip(ctx, "alice"))
	require.Len(t, connB.received, 1)
	require.Equal(t, types.OutMatchDisconnected, connB.received[0].Type)

	_, ok, err := sm.PartnerOf(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok, "session must be ended after skip")
}

func TestDisconnectNotifiesPartnerAndEndsSession(t *testing.T) {
	r, sm, sr := newTestRelay(t)
	ctx := context.Background()

	connB := &fakeConn{socketID: "sockB", userID: "bob"}
	require.NoError(t, sr.Register(ctx, connB))

	_, err := sm.Create(ctx, types.ModalityAudio, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, r.Disconnect(ctx, "alice"))
	require.Len(t, connB.received, 1)
	require.Equal(t, types.OutMatchDisconnected, connB.received[0].Type)

	_, ok, err := sm.PartnerOf(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCallEndEndsSession(t *testing.T) {
	r, sm, sr := newTestRelay(t)
	ctx := context.Background()

	connB := &fakeConn{socketID: "sockB", userID: "bob"}
	require.NoError(t, sr.Register(ctx, connB))

	_, err := sm.Create(ctx, types.ModalityVideo, "alice", "bob")
	require.NoError(t, err)

	require.NoError(t, r.CallEnd(ctx, "alice"))
	require.Len(t, connB.received, 1)
	require.Equal(t, types.OutMatchDisconnected, connB.received[0].Type)

	_, ok, err := sm.PartnerOf(ctx, "bob")
	require.NoError(t, err)
	require.False(t, ok)
}
