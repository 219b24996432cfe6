// Package sessionmgr implements the Session Manager: authoritative
// active pairing state, partner lookup, TTL extension and cleanup.
package sessionmgr

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

const (
	sessionPrefix = "session:"
	pointerPrefix = "session:ptr:"

	// MatchFoundChannel is where Create publishes new pairings; the
	// Pairing Engine subscribes on boot and relays to each side's socket
	// through the Socket Registry, since only it knows which users are
	// local to this instance.
	MatchFoundChannel = "match:found"
)

// MatchFoundEvent is the internal pub/sub payload for MatchFoundChannel,
// distinct from types.MatchFoundPayload (the client-facing wire shape,
// which is asymmetric per recipient and built by the subscriber).
type MatchFoundEvent struct {
	SessionID string          `json:"session_id"`
	UserA     string          `json:"user_a"`
	UserB     string          `json:"user_b"`
	Modality  types.Modality  `json:"modality"`
}

// Manager is the Session Manager.
type Manager struct {
	ss      interfaces.SharedStore
	metrics interfaces.MetricsSink

	sessionTTL         time.Duration
	maxSessionDuration time.Duration
	createLockTTL      time.Duration
}

func New(ss interfaces.SharedStore, metrics interfaces.MetricsSink, sessionTTL, maxSessionDuration, createLockTTL time.Duration) *Manager {
	return &Manager{
		ss:                 ss,
		metrics:            metrics,
		sessionTTL:         sessionTTL,
		maxSessionDuration: maxSessionDuration,
		createLockTTL:      createLockTTL,
	}
}

func sessionKey(sessionID string) string { return sessionPrefix + sessionID }
func pointerKey(userID string) string    { return pointerPrefix + userID }

// Create allocates a new session between a and b, rejecting if either
// already has one. Returns nil, nil when a concurrent create won the race
// or the probe lock could not be acquired — callers treat that as
// "no session created" and retry on the next tick.
func (m *Manager) Create(ctx context.Context, modality types.Modality, a, b string) (*types.Session, error) {
	lockA, lockB := a, b
	if lockA > lockB {
		lockA, lockB = lockB, lockA
	}
	lockKey := "lock:session:" + lockA + ":" + lockB
	token, acquired, err := m.ss.TryAcquire(ctx, lockKey, m.createLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}
	defer func() {
		if relErr := m.ss.Release(ctx, lockKey, token); relErr != nil {
			log.Printf("sessionmgr: release lock %s: %v", lockKey, relErr)
		}
	}()

	if m.hasActiveSession(ctx, a) || m.hasActiveSession(ctx, b) {
		return nil, nil
	}

	session := &types.Session{
		ID:        uuid.NewString(),
		Modality:  modality,
		UserA:     a,
		UserB:     b,
		StartedAt: time.Now(),
		Status:    types.SessionActive,
	}
	blob, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	if err := m.ss.Set(ctx, sessionKey(session.ID), string(blob), m.sessionTTL); err != nil {
		return nil, err
	}
	if err := m.ss.Set(ctx, pointerKey(a), session.ID, m.sessionTTL); err != nil {
		return nil, err
	}
	if err := m.ss.Set(ctx, pointerKey(b), session.ID, m.sessionTTL); err != nil {
		return nil, err
	}

	if notifyBlob, err := json.Marshal(MatchFoundEvent{SessionID: session.ID, UserA: a, UserB: b, Modality: modality}); err == nil {
		if pubErr := m.ss.Publish(ctx, MatchFoundChannel, string(notifyBlob)); pubErr != nil {
			log.Printf("sessionmgr: publish match:found: %v", pubErr)
		}
	}

	if m.metrics != nil {
		m.metrics.IncrCounter("sessions_active", map[string]string{"modality": string(modality)})
	}
	return session, nil
}

func (m *Manager) hasActiveSession(ctx context.Context, userID string) bool {
	sessionID, ok, err := m.ss.Get(ctx, pointerKey(userID))
	if err != nil || !ok {
		return false
	}
	_, exists, err := m.ss.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return false
	}
	if !exists {
		if delErr := m.ss.Delete(ctx, pointerKey(userID)); delErr != nil {
			log.Printf("sessionmgr: clear dangling pointer for %s: %v", userID, delErr)
		}
		return false
	}
	return true
}

// PartnerOf returns the opposite member of userID's active session, if any.
// A dangling pointer (session gone) self-heals by being deleted.
func (m *Manager) PartnerOf(ctx context.Context, userID string) (string, bool, error) {
	sessionID, ok, err := m.ss.Get(ctx, pointerKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	session, ok, err := m.getSession(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	if !ok {
		if delErr := m.ss.Delete(ctx, pointerKey(userID)); delErr != nil {
			log.Printf("sessionmgr: clear dangling pointer for %s: %v", userID, delErr)
		}
		return "", false, nil
	}
	partner, isMember := session.Partner(userID)
	return partner, isMember, nil
}

func (m *Manager) getSession(ctx context.Context, sessionID string) (*types.Session, bool, error) {
	v, ok, err := m.ss.Get(ctx, sessionKey(sessionID))
	if err != nil || !ok {
		return nil, false, err
	}
	var session types.Session
	if err := json.Unmarshal([]byte(v), &session); err != nil {
		log.Printf("sessionmgr: corrupt session record %s: %v", sessionID, err)
		return nil, false, nil
	}
	return &session, true, nil
}

// GetSession returns the session record by ID.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, bool, error) {
	return m.getSession(ctx, sessionID)
}

// End closes sessionID with reason, idempotently: a second call returns false.
func (m *Manager) End(ctx context.Context, sessionID string, reason types.EndReason) (bool, error) {
	session, ok, err := m.getSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	if err := m.ss.Delete(ctx, sessionKey(sessionID)); err != nil {
		return false, err
	}
	if err := m.ss.Delete(ctx, pointerKey(session.UserA)); err != nil {
		log.Printf("sessionmgr: clear pointer for %s: %v", session.UserA, err)
	}
	if err := m.ss.Delete(ctx, pointerKey(session.UserB)); err != nil {
		log.Printf("sessionmgr: clear pointer for %s: %v", session.UserB, err)
	}

	if m.metrics != nil {
		m.metrics.ObserveDuration("session_duration", map[string]string{
			"modality": string(session.Modality),
			"reason":   string(reason),
		}, time.Since(session.StartedAt).Seconds())
	}
	return true, nil
}

// EndForUser ends the session userID is currently in, if any.
func (m *Manager) EndForUser(ctx context.Context, userID string, reason types.EndReason) (bool, error) {
	sessionID, ok, err := m.ss.Get(ctx, pointerKey(userID))
	if err != nil || !ok {
		return false, err
	}
	return m.End(ctx, sessionID, reason)
}

// Extend refreshes sessionID's TTL on observed activity.
func (m *Manager) Extend(ctx context.Context, sessionID string) error {
	session, ok, err := m.getSession(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	blob, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := m.ss.Set(ctx, sessionKey(sessionID), string(blob), m.sessionTTL); err != nil {
		return err
	}
	if err := m.ss.Set(ctx, pointerKey(session.UserA), sessionID, m.sessionTTL); err != nil {
		return err
	}
	return m.ss.Set(ctx, pointerKey(session.UserB), sessionID, m.sessionTTL)
}

// Touch extends the TTL of the session userID currently belongs to, if any.
// A no-op (no error) when userID has no active session.
func (m *Manager) Touch(ctx context.Context, userID string) error {
	sessionID, ok, err := m.ss.Get(ctx, pointerKey(userID))
	if err != nil || !ok {
		return err
	}
	return m.Extend(ctx, sessionID)
}

// ListActive enumerates every live session record in the store. Used on
// shutdown to notify every paired user before the listener closes.
func (m *Manager) ListActive(ctx context.Context) ([]*types.Session, error) {
	var sessions []*types.Session
	var cursor uint64
	for {
		keys, next, err := m.ss.Scan(ctx, cursor, sessionPrefix+"*", 100)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			if strings.HasPrefix(key, pointerPrefix) {
				continue
			}
			sessionID := strings.TrimPrefix(key, sessionPrefix)
			session, ok, err := m.getSession(ctx, sessionID)
			if err != nil || !ok {
				continue
			}
			sessions = append(sessions, session)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// CleanupSweep enumerates every live session and reconciles orphaned
// reverse pointers and over-long sessions. Intended to run on a
// recurring background tick (a few minutes apart).
func (m *Manager) CleanupSweep(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := m.ss.Scan(ctx, cursor, sessionPrefix+"*", 100)
		if err != nil {
			return err
		}
		for _, key := range keys {
			if strings.HasPrefix(key, pointerPrefix) {
				continue
			}
			sessionID := strings.TrimPrefix(key, sessionPrefix)
			m.reconcileSession(ctx, sessionID)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (m *Manager) reconcileSession(ctx context.Context, sessionID string) {
	session, ok, err := m.getSession(ctx, sessionID)
	if err != nil || !ok {
		return
	}

	if time.Since(session.StartedAt) > m.maxSessionDuration {
		if _, err := m.End(ctx, sessionID, types.EndAbandoned); err != nil {
			log.Printf("sessionmgr: abandon over-long session %s: %v", sessionID, err)
		}
		return
	}

	aPtr, aOK, _ := m.ss.Get(ctx, pointerKey(session.UserA))
	bPtr, bOK, _ := m.ss.Get(ctx, pointerKey(session.UserB))
	if !aOK || aPtr != sessionID || !bOK || bPtr != sessionID {
		if _, err := m.End(ctx, sessionID, types.EndAbandoned); err != nil {
			log.Printf("sessionmgr: reconcile orphaned session %s: %v", sessionID, err)
		}
	}
}
