// Package connsup implements the Connection Supervisor: the WebSocket
// upgrade, auth, admission, and per-socket message loop that ties every
// other component together.
package connsup

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairbridge/internal/fleet"
	"pairbridge/internal/hub"
	"pairbridge/internal/queue"
	"pairbridge/internal/ratelimit"
	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/signaling"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// upgrader is shared across all connections.
var upgrader = websocket.Upgrader{
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Supervisor is the Connection Supervisor.
type Supervisor struct {
	auth  interfaces.AuthClient
	users interfaces.UserRepository

	fc  *fleet.Coordinator
	sr  *socketreg.Registry
	qm  *queue.Manager
	sm  *sessionmgr.Manager
	sg  *signaling.Relay
	hub *hub.Hub

	limiters *ratelimit.Limiters
	metrics  interfaces.MetricsSink
}

// New builds a Supervisor wiring every collaborator it needs. metrics may be nil.
func New(auth interfaces.AuthClient, users interfaces.UserRepository, fc *fleet.Coordinator, sr *socketreg.Registry, qm *queue.Manager, sm *sessionmgr.Manager, sg *signaling.Relay, h *hub.Hub, limiters *ratelimit.Limiters, metrics interfaces.MetricsSink) *Supervisor {
	return &Supervisor{auth: auth, users: users, fc: fc, sr: sr, qm: qm, sm: sm, sg: sg, hub: h, limiters: limiters, metrics: metrics}
}

// HandleWebSocket is the net/http handler for the WebSocket upgrade
// endpoint. On success it blocks for the lifetime of the connection,
// running that connection's serial message loop.
func (s *Supervisor) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if s.limiters != nil && !s.limiters.Connect.Allow(ip) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("connsup: upgrade failed: %v", err)
		return
	}

	ctx := r.Context()
	token := r.URL.Query().Get("token")
	userID, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		s.rejectAndClose(conn, types.OutAuthError, types.AuthErrorPayload{Message: "authentication failed"})
		return
	}

	if s.users != nil {
		if banned, err := s.users.IsBanned(ctx, userID); err == nil && banned {
			s.rejectAndClose(conn, types.OutAuthError, types.AuthErrorPayload{Message: "this account cannot connect"})
			return
		}
	}

	if s.fc != nil && !s.fc.ShouldAccept() {
		s.rejectAndClose(conn, types.OutError, types.ErrorPayload{Code: string(types.KindOverloaded), Message: "server is busy, try again shortly"})
		return
	}

	socketID := uuid.NewString()
	wsConn := socketreg.NewConnection(conn, socketID)
	wsConn.SetUserID(userID)

	if err := s.sr.Register(ctx, wsConn); err != nil {
		log.Printf("connsup: register socket %s for %s: %v", socketID, userID, err)
		_ = wsConn.Close()
		return
	}
	if s.fc != nil {
		s.fc.SetActiveConnections(s.sr.ConnectionCount())
	}

	username := ""
	if s.users != nil {
		if name, err := s.users.GetUsername(ctx, userID); err == nil {
			username = name
		}
	}
	if env, err := types.Outbound(types.OutAuthSuccess, types.AuthSuccessPayload{SocketID: socketID, UserID: userID, Username: username}); err == nil {
		_ = wsConn.WriteEnvelope(env, true)
	}

	s.serve(ctx, wsConn, userID, socketID)
}

// rejectAndClose writes a single envelope to a freshly upgraded connection
// and closes it, for failures discovered only after the WebSocket upgrade.
func (s *Supervisor) rejectAndClose(conn *websocket.Conn, msgType string, payload interface{}) {
	env, err := types.Outbound(msgType, payload)
	if err == nil {
		if data, mErr := json.Marshal(env); mErr == nil {
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	_ = conn.Close()
}

// serve runs one connection's lifecycle: heartbeat, serial message read
// pump, and the disconnect cascade. Handlers for a single socket run
// serially here; other sockets proceed independently in their own
// goroutines.
func (s *Supervisor) serve(ctx context.Context, conn *socketreg.Connection, userID, socketID string) {
	defer s.disconnect(conn, userID)

	rawConn := conn.Raw()
	_ = rawConn.SetReadDeadline(time.Now().Add(pongWait))
	rawConn.SetPongHandler(func(string) error {
		return rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(rawConn, stopPing)

	for {
		messageType, data, err := rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("connsup: socket %s closed unexpectedly: %v", socketID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.handleFrame(ctx, userID, socketID, data, conn)
	}
}

func (s *Supervisor) pingLoop(rawConn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *Supervisor) handleFrame(ctx context.Context, userID, socketID string, data []byte, conn *socketreg.Connection) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.writeError(conn, types.ErrValidation)
		return
	}

	if s.limiters != nil {
		if !s.limiters.Message.Allow(socketID) {
			s.writeError(conn, types.ErrRateLimited)
			return
		}
		if env.Type == types.InQueueJoin && !s.limiters.QueueJoin.Allow(userID) {
			s.writeError(conn, types.ErrRateLimited)
			return
		}
	}

	if err := s.hub.Dispatch(ctx, hub.Inbound{UserID: userID, SocketID: socketID}, env); err != nil {
		s.writeError(conn, err)
	}
}

func (s *Supervisor) writeError(conn *socketreg.Connection, err error) {
	kind := types.ErrorKind(err)
	env, buildErr := types.Outbound(types.OutError, types.ErrorPayload{Code: string(kind), Message: errorMessage(err)})
	if buildErr != nil {
		return
	}
	if writeErr := conn.WriteEnvelope(env, false); writeErr != nil {
		log.Printf("connsup: write error envelope to %s: %v", conn.SocketID(), writeErr)
	}
}

func errorMessage(err error) string {
	if ce, ok := err.(*types.CoreError); ok {
		return ce.Msg
	}
	return "something went wrong"
}

// disconnect runs the full disconnect cascade: remove from any queue, end
// any active session (notifying the partner), and unregister the socket.
// This runs to completion under a bounded grace deadline even if the
// request context that spawned it has already been canceled.
func (s *Supervisor) disconnect(conn *socketreg.Connection, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.qm.RemoveFromAll(ctx, userID); err != nil {
		log.Printf("connsup: remove %s from queues on disconnect: %v", userID, err)
	}
	if err := s.sg.Disconnect(ctx, userID); err != nil {
		log.Printf("connsup: end session for %s on disconnect: %v", userID, err)
	}
	s.sr.Unregister(ctx, conn)
	if s.fc != nil {
		s.fc.SetActiveConnections(s.sr.ConnectionCount())
	}
	_ = conn.Close()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
