package types

import "encoding/json"

// Inbound message type tags carried on the WebSocket surface.
const (
	InQueueJoin      = "queue:join"
	InQueueLeave     = "queue:leave"
	InMatchNext      = "match:next"
	InCallOffer      = "call:offer"
	InCallAnswer     = "call:answer"
	InCallICE        = "call:ice"
	InCallEnd        = "call:end"
	InChatMessage    = "chat:message"
	InChatTyping     = "chat:typing"
	InChatStopTyping = "chat:stop_typing"
	InFriendCall     = "friend:call"
	InReportUser     = "report:user"
)

// Outbound message type tags.
const (
	OutAuthSuccess       = "auth:success"
	OutAuthError         = "auth:error"
	OutQueuePosition     = "queue:position"
	OutQueueError        = "queue:error"
	OutMatchFound        = "match:found"
	OutMatchDisconnected = "match:disconnected"
	OutMatchError        = "match:error"
	OutChatMessage       = "chat:message"
	OutChatTyping        = "chat:typing"
	OutChatStopTyping    = "chat:stop_typing"
	OutCallOffer         = "call:offer"
	OutCallAnswer        = "call:answer"
	OutCallICE           = "call:ice"
	OutCallError         = "call:error"
	OutReportAck         = "report:ack"
	OutUserCount         = "user:count"
	OutError             = "error"
)

// Envelope is the outer shape of every inbound and outbound WebSocket frame.
// Payload is kept raw on decode so the dispatch table can unmarshal it into
// the concrete struct the message type calls for.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound builds an envelope ready to marshal and write to a socket.
func Outbound(msgType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

type QueueJoinPayload struct {
	Modality Modality `json:"type"`
}

type QueuePositionPayload struct {
	Position      int   `json:"position"`
	EstimatedWait int64 `json:"estimated_wait_ms"`
}

type QueueErrorPayload struct {
	Message string `json:"message"`
}

type MatchFoundPayload struct {
	SessionID       string   `json:"sessionId"`
	PartnerID       string   `json:"partnerId"`
	PartnerUsername string   `json:"partnerUsername"`
	SessionType     Modality `json:"sessionType"`
}

type MatchDisconnectedPayload struct {
	Reason string `json:"reason"`
}

type MatchErrorPayload struct {
	Message string `json:"message"`
}

type ChatMessagePayload struct {
	SenderID  string `json:"senderId,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type CallSDPPayload struct {
	SDP string `json:"sdp"`
}

type CallICEPayload struct {
	Candidate json.RawMessage `json:"candidate"`
}

type CallErrorPayload struct {
	Message string `json:"message"`
}

type FriendCallPayload struct {
	FriendID string   `json:"friendId"`
	Modality Modality `json:"type"`
}

type ReportUserPayload struct {
	ReportedUserID string  `json:"reportedUserId"`
	Reason         string  `json:"reason"`
	Description    string  `json:"description,omitempty"`
	SessionID      *string `json:"sessionId,omitempty"`
}

type ReportAckPayload struct {
	ReportID string `json:"reportId"`
}

type AuthSuccessPayload struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type AuthErrorPayload struct {
	Message string `json:"message"`
}

type UserCountPayload struct {
	Count int `json:"n"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
