// Package signaling implements the Signaling Relay: per-session chat and
// call message relay between two paired peers.
package signaling

import (
	"context"
	"log"
	"time"

	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/types"
)

// Relay is the Signaling Relay.
type Relay struct {
	sm *sessionmgr.Manager
	sr *socketreg.Registry
}

// New builds a Relay bound to the Session Manager and Socket Registry it
// resolves partners and delivers frames through.
func New(sm *sessionmgr.Manager, sr *socketreg.Registry) *Relay {
	return &Relay{sm: sm, sr: sr}
}

// ChatMessage resolves userID's active partner and relays text, rejecting
// empty or over-long bodies or a missing session. Text is never persisted.
func (r *Relay) ChatMessage(ctx context.Context, userID, text string) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotInSession
	}
	if err := types.ValidateChatText(text); err != nil {
		return err
	}
	if err := r.sm.Touch(ctx, userID); err != nil {
		log.Printf("signaling: extend session for %s: %v", userID, err)
	}
	env, err := types.Outbound(types.OutChatMessage, types.ChatMessagePayload{
		SenderID:  userID,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return r.sr.EmitToUser(ctx, partner, env, true)
}

// ChatTyping relays a typing indicator to userID's partner, with no
// payload validation beyond the session check since it is purely ephemeral.
func (r *Relay) ChatTyping(ctx context.Context, userID string) error {
	return r.relayEphemeral(ctx, userID, types.OutChatTyping, nil)
}

// ChatStopTyping relays a stop-typing indicator.
func (r *Relay) ChatStopTyping(ctx context.Context, userID string) error {
	return r.relayEphemeral(ctx, userID, types.OutChatStopTyping, nil)
}

// CallOffer relays an SDP offer to userID's partner, dropping silently if
// there is no active session (a common race at call teardown).
func (r *Relay) CallOffer(ctx context.Context, userID, sdp string) error {
	return r.relayOpaque(ctx, userID, types.OutCallOffer, types.CallSDPPayload{SDP: sdp})
}

// CallAnswer relays an SDP answer, same semantics as CallOffer.
func (r *Relay) CallAnswer(ctx context.Context, userID, sdp string) error {
	return r.relayOpaque(ctx, userID, types.OutCallAnswer, types.CallSDPPayload{SDP: sdp})
}

// CallICE relays an opaque ICE candidate, never inspected.
func (r *Relay) CallICE(ctx context.Context, userID string, candidate []byte) error {
	return r.relayOpaque(ctx, userID, types.OutCallICE, types.CallICEPayload{Candidate: candidate})
}

// CallEnd notifies userID's partner that the call ended and tears down the session.
func (r *Relay) CallEnd(ctx context.Context, userID string) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		env, err := types.Outbound(types.OutMatchDisconnected, types.MatchDisconnectedPayload{Reason: "call_end"})
		if err == nil {
			if emitErr := r.sr.EmitToUser(ctx, partner, env, true); emitErr != nil {
				log.Printf("signaling: notify call:end to %s: %v", partner, emitErr)
			}
		}
	}
	_, err = r.sm.EndForUser(ctx, userID, types.EndNormal)
	return err
}

// Skip (match:next) notifies the partner of the skip, then tears down the
// session from userID's side.
func (r *Relay) Skip(ctx context.Context, userID string) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		env, err := types.Outbound(types.OutMatchDisconnected, types.MatchDisconnectedPayload{Reason: "skip"})
		if err == nil {
			if emitErr := r.sr.EmitToUser(ctx, partner, env, true); emitErr != nil {
				log.Printf("signaling: notify match:next to %s: %v", partner, emitErr)
			}
		}
	}
	_, err = r.sm.EndForUser(ctx, userID, types.EndSkip)
	return err
}

// Disconnect notifies userID's partner that userID left, then tears down
// the session. Used by the Connection Supervisor's disconnect cascade.
func (r *Relay) Disconnect(ctx context.Context, userID string) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		env, err := types.Outbound(types.OutMatchDisconnected, types.MatchDisconnectedPayload{Reason: "disconnect"})
		if err == nil {
			if emitErr := r.sr.EmitToUser(ctx, partner, env, true); emitErr != nil {
				log.Printf("signaling: notify disconnect to %s: %v", partner, emitErr)
			}
		}
	}
	_, err = r.sm.EndForUser(ctx, userID, types.EndDisconnect)
	return err
}

func (r *Relay) relayEphemeral(ctx context.Context, userID, msgType string, payload interface{}) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil || !ok {
		return err
	}
	if err := r.sm.Touch(ctx, userID); err != nil {
		log.Printf("signaling: extend session for %s: %v", userID, err)
	}
	env, err := types.Outbound(msgType, payload)
	if err != nil {
		return err
	}
	return r.sr.EmitToUser(ctx, partner, env, false)
}

func (r *Relay) relayOpaque(ctx context.Context, userID, msgType string, payload interface{}) error {
	partner, ok, err := r.sm.PartnerOf(ctx, userID)
	if err != nil || !ok {
		// No partner: common at call teardown, drop silently.
		return nil
	}
	if err := r.sm.Touch(ctx, userID); err != nil {
		log.Printf("signaling: extend session for %s: %v", userID, err)
	}
	env, err := types.Outbound(msgType, payload)
	if err != nil {
		return err
	}
	return r.sr.EmitToUser(ctx, partner, env, true)
}
