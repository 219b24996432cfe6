// Package pairing implements the Pairing Engine: orchestration over the
// Queue Manager, Session Manager and Socket Registry.
package pairing

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"pairbridge/internal/queue"
	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

// Status is the result of a status(userId) query.
type Status struct {
	InQueue       bool
	Modality      types.Modality
	Position      int
	EstimatedWait time.Duration
}

// Engine is the Pairing Engine.
type Engine struct {
	ss      interfaces.SharedStore
	qm      *queue.Manager
	sm      *sessionmgr.Manager
	sr      *socketreg.Registry
	users   interfaces.UserRepository
	metrics interfaces.MetricsSink

	matchInterval time.Duration

	sub    interfaces.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Engine. users and metrics may be nil.
func New(ss interfaces.SharedStore, qm *queue.Manager, sm *sessionmgr.Manager, sr *socketreg.Registry, users interfaces.UserRepository, metrics interfaces.MetricsSink, matchInterval time.Duration) *Engine {
	return &Engine{
		ss:            ss,
		qm:            qm,
		sm:            sm,
		sr:            sr,
		users:         users,
		metrics:       metrics,
		matchInterval: matchInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start subscribes to session-creation notifications and launches the
// per-modality safety-tick matcher.
func (e *Engine) Start(ctx context.Context) error {
	sub, err := e.ss.Subscribe(ctx, sessionmgr.MatchFoundChannel)
	if err != nil {
		return err
	}
	e.sub = sub

	e.wg.Add(1)
	go e.relayMatchesLoop(ctx)

	for _, modality := range allModalities {
		e.wg.Add(1)
		go e.safetyTickLoop(ctx, modality)
	}
	return nil
}

func (e *Engine) Stop() {
	close(e.stopCh)
	if e.sub != nil {
		e.sub.Close()
	}
	e.wg.Wait()
}

var allModalities = []types.Modality{types.ModalityVideo, types.ModalityAudio, types.ModalityText}

// relayMatchesLoop consumes sessionmgr's internal match:found broadcast and
// relays the client-facing payload to each side through the Socket
// Registry, wherever in the fleet their socket actually lives.
func (e *Engine) relayMatchesLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case raw, ok := <-e.sub.Channel():
			if !ok {
				return
			}
			var event sessionmgr.MatchFoundEvent
			if err := json.Unmarshal([]byte(raw), &event); err != nil {
				log.Printf("pairing: corrupt match:found event: %v", err)
				continue
			}
			e.notifyMatch(ctx, event)
		}
	}
}

func (e *Engine) notifyMatch(ctx context.Context, event sessionmgr.MatchFoundEvent) {
	e.notifySide(ctx, event.SessionID, event.UserA, event.UserB, event.Modality)
	e.notifySide(ctx, event.SessionID, event.UserB, event.UserA, event.Modality)
}

func (e *Engine) notifySide(ctx context.Context, sessionID, recipient, partner string, modality types.Modality) {
	username := ""
	if e.users != nil {
		if name, err := e.users.GetUsername(ctx, partner); err == nil {
			username = name
		}
	}
	payload := types.MatchFoundPayload{
		SessionID:       sessionID,
		PartnerID:       partner,
		PartnerUsername: username,
		SessionType:     modality,
	}
	env, err := types.Outbound(types.OutMatchFound, payload)
	if err != nil {
		log.Printf("pairing: build match:found envelope: %v", err)
		return
	}
	if err := e.sr.EmitToUser(ctx, recipient, env, true); err != nil {
		log.Printf("pairing: deliver match:found to %s: %v", recipient, err)
	}
}

// QuickMatch enqueues userID in modality and immediately attempts a pair.
// If a partner is found, it creates a session; otherwise it reports the
// caller's current queue position.
func (e *Engine) QuickMatch(ctx context.Context, userID, socketID string, modality types.Modality) error {
	if _, err := e.qm.Enqueue(ctx, userID, socketID, modality); err != nil {
		return err
	}
	paired, err := e.tryPair(ctx, userID, modality)
	if err != nil {
		return err
	}
	if paired {
		return nil
	}
	return e.reportPosition(ctx, userID, modality)
}

// tryPair attempts qm.Pair on userID's behalf and, on success, creates a
// session and notifies both sides. If session creation loses the race (nil,
// nil), both entries are reinserted at their original joinedAt scores so
// fairness survives the failed attempt.
func (e *Engine) tryPair(ctx context.Context, userID string, modality types.Modality) (bool, error) {
	partnerEntry, callerEntry, ok, err := e.qm.Pair(ctx, userID, modality)
	if err != nil || !ok {
		return false, err
	}

	session, err := e.sm.Create(ctx, modality, callerEntry.UserID, partnerEntry.UserID)
	if err != nil {
		return false, err
	}
	if session == nil {
		if reErr := e.qm.Reinsert(ctx, callerEntry); reErr != nil {
			log.Printf("pairing: reinsert caller %s after failed session create: %v", callerEntry.UserID, reErr)
		}
		if reErr := e.qm.Reinsert(ctx, partnerEntry); reErr != nil {
			log.Printf("pairing: reinsert partner %s after failed session create: %v", partnerEntry.UserID, reErr)
		}
		if e.metrics != nil {
			e.metrics.IncrCounter("session_create_failed", map[string]string{"modality": string(modality)})
		}
		return false, nil
	}
	return true, nil
}

func (e *Engine) reportPosition(ctx context.Context, userID string, modality types.Modality) error {
	position, err := e.qm.Position(ctx, userID, modality)
	if err != nil {
		return err
	}
	wait := time.Duration(0)
	if position > 1 {
		wait = time.Duration(position-1) * 5 * time.Second
	}
	env, err := types.Outbound(types.OutQueuePosition, types.QueuePositionPayload{
		Position:      position,
		EstimatedWait: wait.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return e.sr.EmitToUser(ctx, userID, env, false)
}

// Cancel removes userID from modality's queue.
func (e *Engine) Cancel(ctx context.Context, userID string, modality types.Modality) error {
	_, err := e.qm.Dequeue(ctx, userID, modality)
	return err
}

// Status reports userID's current queue standing.
func (e *Engine) Status(ctx context.Context, userID string) (Status, error) {
	modality, ok, err := e.qm.ModalityOf(ctx, userID)
	if err != nil || !ok {
		return Status{}, err
	}
	position, err := e.qm.Position(ctx, userID, modality)
	if err != nil {
		return Status{}, err
	}
	wait := time.Duration(0)
	if position > 1 {
		wait = time.Duration(position-1) * 5 * time.Second
	}
	return Status{InQueue: true, Modality: modality, Position: position, EstimatedWait: wait}, nil
}

// WithFriend bypasses the queue entirely: it creates a session directly
// between userID and friendID, failing if either already has one.
func (e *Engine) WithFriend(ctx context.Context, userID, friendID string, modality types.Modality) (*types.Session, error) {
	return e.sm.Create(ctx, modality, userID, friendID)
}

// Rematch ends userID's current session (if any), clears any queue
// membership, and immediately attempts a new quick match.
func (e *Engine) Rematch(ctx context.Context, userID, socketID string, modality types.Modality) error {
	if _, err := e.sm.EndForUser(ctx, userID, types.EndNormal); err != nil {
		return err
	}
	if err := e.qm.RemoveFromAll(ctx, userID); err != nil {
		return err
	}
	return e.QuickMatch(ctx, userID, socketID, modality)
}

// safetyTickLoop runs the per-modality background matcher: every
// matchInterval, if at least two entries are waiting, it attempts
// floor(queueSize/2) paired extractions as defense-in-depth against race
// losses in QuickMatch. Each attempt impersonates the longest-waiting
// entry so a user who arrived before any partner existed is never starved
// by newer arrivals that keep winning the opportunistic race.
func (e *Engine) safetyTickLoop(ctx context.Context, modality types.Modality) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.matchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.safetyTick(ctx, modality)
		}
	}
}

func (e *Engine) safetyTick(ctx context.Context, modality types.Modality) {
	size, err := e.qm.QueueSize(ctx, modality)
	if err != nil {
		log.Printf("pairing: safety tick queue size for %s: %v", modality, err)
		return
	}
	attempts := size / 2
	for i := 0; i < attempts; i++ {
		oldest, err := e.qm.Peek(ctx, modality, 1)
		if err != nil {
			log.Printf("pairing: safety tick peek for %s: %v", modality, err)
			return
		}
		if len(oldest) == 0 {
			return
		}
		paired, err := e.tryPair(ctx, oldest[0], modality)
		if err != nil {
			log.Printf("pairing: safety tick pair for %s: %v", modality, err)
			return
		}
		if !paired {
			return
		}
	}
}
