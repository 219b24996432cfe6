package hub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairbridge/internal/pairing"
	"pairbridge/internal/queue"
	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/signaling"
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

type fakeFriends struct{ friends map[string]bool }

func (f *fakeFriends) AreFriends(ctx context.Context, a, b string) (bool, error) {
	return f.friends[a+":"+b] || f.friends[b+":"+a], nil
}

type fakeReports struct{ created []*types.Report }

func (f *fakeReports) CreateReport(ctx context.Context, r *types.Report) error {
	f.created = append(f.created, r)
	return nil
}

func newTestHub(t *testing.T, friends interfaces.FriendRepository, reports interfaces.ReportRepository) (*Hub, *socketreg.Registry) {
	t.Helper()
	ss := store.NewMemoryStore()
	sm := sessionmgr.New(ss, nil, time.Hour, 30*time.Minute, 3*time.Second)
	sr := socketreg.New(ss, "instance-1", time.Minute)
	require.NoError(t, sr.Start(context.Background()))
	qm := queue.New(ss, nil, time.Minute, 5*time.Second)
	pe := pairing.New(ss, qm, sm, sr, nil, nil, 20*time.Millisecond)
	require.NoError(t, pe.Start(context.Background()))
	sg := signaling.New(sm, sr)
	return New(pe, sg, friends, reports, sr, nil), sr
}

func TestDispatchUnknownTypeIsValidationError(t *testing.T) {
	h, _ := newTestHub(t, nil, nil)
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice"}, types.Envelope{Type: "bogus:type"})
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestDispatchQueueJoinRejectsInvalidModality(t *testing.T) {
	h, _ := newTestHub(t, nil, nil)
	payload, _ := json.Marshal(types.QueueJoinPayload{Modality: "smell"})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice", SocketID: "s1"}, types.Envelope{Type: types.InQueueJoin, Payload: payload})
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestDispatchFriendCallRejectsNonFriends(t *testing.T) {
	h, _ := newTestHub(t, &fakeFriends{friends: map[string]bool{}}, nil)
	payload, _ := json.Marshal(types.FriendCallPayload{FriendID: "bob", Modality: types.ModalityVideo})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice"}, types.Envelope{Type: types.InFriendCall, Payload: payload})
	require.True(t, errors.Is(err, types.ErrValidation))
}

func TestDispatchFriendCallCreatesSession(t *testing.T) {
	h, _ := newTestHub(t, &fakeFriends{friends: map[string]bool{"alice:bob": true}}, nil)
	payload, _ := json.Marshal(types.FriendCallPayload{FriendID: "bob", Modality: types.ModalityVideo})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice"}, types.Envelope{Type: types.InFriendCall, Payload: payload})
	require.NoError(t, err)
}

func TestDispatchReportUserPersists(t *testing.T) {
	reports := &fakeReports{}
	h, _ := newTestHub(t, nil, reports)
	payload, _ := json.Marshal(types.ReportUserPayload{ReportedUserID: "bob", Reason: "spam"})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice"}, types.Envelope{Type: types.InReportUser, Payload: payload})
	require.NoError(t, err)
	require.Len(t, reports.created, 1)
	require.Equal(t, "alice", reports.created[0].ReporterID)
}

func TestDispatchReportUserEmitsAck(t *testing.T) {
	h, sr := newTestHub(t, nil, &fakeReports{})
	conn := &fakeConn{socketID: "s1", userID: "alice"}
	require.NoError(t, sr.Register(context.Background(), conn))

	payload, _ := json.Marshal(types.ReportUserPayload{ReportedUserID: "bob", Reason: "spam"})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice", SocketID: "s1"}, types.Envelope{Type: types.InReportUser, Payload: payload})
	require.NoError(t, err)

	require.NotEmpty(t, conn.received)
	last := conn.received[len(conn.received)-1]
	require.Equal(t, types.OutReportAck, last.Type)
}

func TestDispatchReportUserRejectsEmptyReason(t *testing.T) {
	h, _ := newTestHub(t, nil, &fakeReports{})
	payload, _ := json.Marshal(types.ReportUserPayload{ReportedUserID: "bob", Reason: ""})
	err := h.Dispatch(context.Background(), Inbound{UserID: "alice"}, types.Envelope{Type: types.InReportUser, Payload: payload})
	require.True(t, errors.Is(err, types.ErrValidation))
}
