// Package types holds the data model shared by every core component:
// waiting entries, sessions, socket handles, presence and instance records,
// and the WebSocket message envelope.
package types

import "time"

// Modality is one of the three matching pools a user can wait in.
type Modality string

const (
	ModalityVideo Modality = "video"
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

// SessionStatus is the lifecycle state of a Session. active -> {ended, abandoned}.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionAbandoned SessionStatus = "abandoned"
)

// EndReason records why a session was closed, for metrics.
type EndReason string

const (
	EndNormal     EndReason = "normal"
	EndSkip       EndReason = "skip"
	EndDisconnect EndReason = "disconnect"
	EndTimeout    EndReason = "timeout"
	EndAbandoned  EndReason = "abandoned"
)

// WaitingEntry is a user's record in a modality queue awaiting pairing.
type WaitingEntry struct {
	UserID   string    `json:"user_id"`
	SocketID string    `json:"socket_id"`
	Modality Modality  `json:"modality"`
	JoinedAt time.Time `json:"joined_at"`
}

// Session is the authoritative record of an active or closed pairing.
type Session struct {
	ID        string        `json:"id"`
	Modality  Modality      `json:"modality"`
	UserA     string        `json:"user_a"`
	UserB     string        `json:"user_b"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Status    SessionStatus `json:"status"`
}

// Partner returns the other member of the session relative to userID, and
// whether userID is actually a member.
func (s *Session) Partner(userID string) (string, bool) {
	switch userID {
	case s.UserA:
		return s.UserB, true
	case s.UserB:
		return s.UserA, true
	default:
		return "", false
	}
}

// SocketHandle identifies one local WebSocket connection for a user.
type SocketHandle struct {
	SocketID    string    `json:"socket_id"`
	UserID      string    `json:"user_id"`
	InstanceID  string    `json:"instance_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Presence is a TTL-backed liveness record; absence of the key means offline.
type Presence struct {
	UserID     string    `json:"user_id"`
	InstanceID string    `json:"instance_id"`
	LastSeen   time.Time `json:"last_seen"`
}

// InstanceRecord describes one running server process for the fleet coordinator.
type InstanceRecord struct {
	InstanceID        string    `json:"instance_id"`
	Host              string    `json:"host"`
	Port              int       `json:"port"`
	CPUPercent        float64   `json:"cpu_pct"`
	MemPercent        float64   `json:"mem_pct"`
	ActiveConnections int       `json:"active_connections"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	Healthy           bool      `json:"healthy"`
}

// LoadScore implements the fleet coordinator's leastLoaded ranking formula.
func (r *InstanceRecord) LoadScore() float64 {
	return 0.4*r.CPUPercent + 0.3*r.MemPercent + 0.3*(float64(r.ActiveConnections)/100.0)
}

// Report is created by a reporting call; the core never interprets it.
type Report struct {
	ID          string    `json:"id"`
	ReporterID  string    `json:"reporter_id"`
	ReportedID  string    `json:"reported_id"`
	SessionID   *string   `json:"session_id,omitempty"`
	Reason      string    `json:"reason"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}
