// Package hub implements the inbound message dispatch table: one pure
// handler per WebSocket message type, composed over the Pairing Engine,
// Signaling Relay, and the friend/report collaborators.
//
// Dispatch is a flat per-message-type table invoked directly from each
// connection's own serial read loop (see internal/connsup), rather than
// behind a single global channel-fed goroutine: a global dispatcher
// goroutine would serialize every socket in the fleet behind one
// channel. The invariant that matters — serialize within one unit of
// work, run units in parallel — is preserved, just anchored at the
// per-socket unit instead of the per-process one.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"pairbridge/internal/pairing"
	"pairbridge/internal/signaling"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

// Inbound identifies the sender of a dispatched message.
type Inbound struct {
	UserID   string
	SocketID string
}

// HandlerFunc processes one inbound envelope's payload on behalf of from.
type HandlerFunc func(ctx context.Context, from Inbound, payload json.RawMessage) error

// Hub owns the inbound dispatch table.
type Hub struct {
	pairing   *pairing.Engine
	signaling *signaling.Relay
	friends   interfaces.FriendRepository
	reports   interfaces.ReportRepository
	sr        *socketreg.Registry
	metrics   interfaces.MetricsSink

	handlers map[string]HandlerFunc
}

// New builds a Hub and wires its dispatch table. friends, reports and
// metrics may be nil.
func New(pe *pairing.Engine, sg *signaling.Relay, friends interfaces.FriendRepository, reports interfaces.ReportRepository, sr *socketreg.Registry, metrics interfaces.MetricsSink) *Hub {
	h := &Hub{pairing: pe, signaling: sg, friends: friends, reports: reports, sr: sr, metrics: metrics}
	h.handlers = map[string]HandlerFunc{
		types.InQueueJoin:      h.handleQueueJoin,
		types.InQueueLeave:     h.handleQueueLeave,
		types.InMatchNext:      h.handleMatchNext,
		types.InCallOffer:      h.handleCallOffer,
		types.InCallAnswer:     h.handleCallAnswer,
		types.InCallICE:        h.handleCallICE,
		types.InCallEnd:        h.handleCallEnd,
		types.InChatMessage:    h.handleChatMessage,
		types.InChatTyping:     h.handleChatTyping,
		types.InChatStopTyping: h.handleChatStopTyping,
		types.InFriendCall:     h.handleFriendCall,
		types.InReportUser:     h.handleReportUser,
	}
	return h
}

// Dispatch routes env to its handler, returning types.ErrValidation for an
// unrecognized message type.
func (h *Hub) Dispatch(ctx context.Context, from Inbound, env types.Envelope) error {
	handler, ok := h.handlers[env.Type]
	if !ok {
		return types.ErrValidation
	}
	return handler(ctx, from, env.Payload)
}

func (h *Hub) handleQueueJoin(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.QueueJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	if !types.IsValidModality(p.Modality) {
		return types.ErrValidation
	}
	return h.pairing.QuickMatch(ctx, from.UserID, from.SocketID, p.Modality)
}

func (h *Hub) handleQueueLeave(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.QueueJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	return h.pairing.Cancel(ctx, from.UserID, p.Modality)
}

func (h *Hub) handleMatchNext(ctx context.Context, from Inbound, _ json.RawMessage) error {
	return h.signaling.Skip(ctx, from.UserID)
}

func (h *Hub) handleCallOffer(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.CallSDPPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	return h.signaling.CallOffer(ctx, from.UserID, p.SDP)
}

func (h *Hub) handleCallAnswer(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.CallSDPPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	return h.signaling.CallAnswer(ctx, from.UserID, p.SDP)
}

func (h *Hub) handleCallICE(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.CallICEPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	return h.signaling.CallICE(ctx, from.UserID, p.Candidate)
}

func (h *Hub) handleCallEnd(ctx context.Context, from Inbound, _ json.RawMessage) error {
	return h.signaling.CallEnd(ctx, from.UserID)
}

func (h *Hub) handleChatMessage(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.ChatMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	return h.signaling.ChatMessage(ctx, from.UserID, p.Text)
}

func (h *Hub) handleChatTyping(ctx context.Context, from Inbound, _ json.RawMessage) error {
	return h.signaling.ChatTyping(ctx, from.UserID)
}

func (h *Hub) handleChatStopTyping(ctx context.Context, from Inbound, _ json.RawMessage) error {
	return h.signaling.ChatStopTyping(ctx, from.UserID)
}

func (h *Hub) handleFriendCall(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.FriendCallPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	if !types.IsValidModality(p.Modality) {
		return types.ErrValidation
	}
	if h.friends == nil {
		return types.ErrValidation
	}
	areFriends, err := h.friends.AreFriends(ctx, from.UserID, p.FriendID)
	if err != nil {
		return err
	}
	if !areFriends {
		return types.ErrValidation
	}
	session, err := h.pairing.WithFriend(ctx, from.UserID, p.FriendID, p.Modality)
	if err != nil {
		return err
	}
	if session == nil {
		return types.ErrAlreadyInSession
	}
	return nil
}

func (h *Hub) handleReportUser(ctx context.Context, from Inbound, payload json.RawMessage) error {
	var p types.ReportUserPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.ErrValidation
	}
	if err := types.ValidateReportReason(p.Reason); err != nil {
		return err
	}
	if !types.IsValidUserID(p.ReportedUserID) {
		return types.ErrValidation
	}
	if h.reports == nil {
		return nil
	}
	report := &types.Report{
		ID:          uuid.NewString(),
		ReporterID:  from.UserID,
		ReportedID:  p.ReportedUserID,
		SessionID:   p.SessionID,
		Reason:      p.Reason,
		Description: p.Description,
		CreatedAt:   time.Now(),
		Status:      "open",
	}
	if err := h.reports.CreateReport(ctx, report); err != nil {
		log.Printf("hub: create report: %v", err)
		return err
	}
	if h.metrics != nil {
		h.metrics.IncrCounter("reports_created", nil)
	}
	if h.sr != nil {
		env, err := types.Outbound(types.OutReportAck, types.ReportAckPayload{ReportID: report.ID})
		if err != nil {
			log.Printf("hub: build report:ack envelope: %v", err)
		} else if emitErr := h.sr.EmitToUser(ctx, from.UserID, env, false); emitErr != nil {
			log.Printf("hub: emit report:ack to %s: %v", from.UserID, emitErr)
		}
	}
	return nil
}
