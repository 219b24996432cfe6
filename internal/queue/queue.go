// Package queue implements the Queue Manager: per-modality FIFO waiting
// pools backed by the Shared Store's sorted sets.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/types"
)

var allModalities = []types.Modality{types.ModalityVideo, types.ModalityAudio, types.ModalityText}

// Manager is the Queue Manager.
type Manager struct {
	ss        interfaces.SharedStore
	metrics   interfaces.MetricsSink
	timeout   time.Duration
	lockTTL   time.Duration
}

// New builds a Manager. metrics may be nil.
func New(ss interfaces.SharedStore, metrics interfaces.MetricsSink, queueTimeout, pairLockTTL time.Duration) *Manager {
	return &Manager{ss: ss, metrics: metrics, timeout: queueTimeout, lockTTL: pairLockTTL}
}

func queueKey(modality types.Modality) string { return "queue:" + string(modality) }
func entryKey(userID string) string            { return "queue:entry:" + userID }
func userModalityKey(userID string) string     { return "queue:user:" + userID }

// Enqueue inserts userID into modality's waiting pool. It returns false if
// the user is already waiting in any modality.
func (m *Manager) Enqueue(ctx context.Context, userID, socketID string, modality types.Modality) (bool, error) {
	_, already, err := m.ss.Get(ctx, userModalityKey(userID))
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	entry := types.WaitingEntry{UserID: userID, SocketID: socketID, Modality: modality, JoinedAt: time.Now()}
	blob, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	if err := m.ss.Set(ctx, entryKey(userID), string(blob), m.timeout); err != nil {
		return false, err
	}
	if err := m.ss.Set(ctx, userModalityKey(userID), string(modality), m.timeout); err != nil {
		return false, err
	}
	if err := m.ss.ZAdd(ctx, queueKey(modality), float64(entry.JoinedAt.UnixNano()), userID); err != nil {
		return false, err
	}
	return true, nil
}

// Dequeue removes userID from modality's pool, recording its wait time.
func (m *Manager) Dequeue(ctx context.Context, userID string, modality types.Modality) (bool, error) {
	entry, hadEntry := m.loadEntry(ctx, userID)

	removed, err := m.ss.ZRem(ctx, queueKey(modality), userID)
	if err != nil {
		return false, err
	}
	if err := m.ss.Delete(ctx, entryKey(userID)); err != nil {
		log.Printf("queue: delete sidecar for %s: %v", userID, err)
	}
	if err := m.ss.Delete(ctx, userModalityKey(userID)); err != nil {
		log.Printf("queue: delete user marker for %s: %v", userID, err)
	}

	if removed > 0 && hadEntry && m.metrics != nil {
		m.metrics.ObserveDuration("queue_wait_time", map[string]string{"modality": string(modality)}, time.Since(entry.JoinedAt).Seconds())
	}
	return removed > 0, nil
}

// Pair attempts to pair userID with the other longest-waiting entry in
// modality. ok=false with no error means the caller should retry on the
// next tick (lock contention, or the caller was not among the top two).
// On success it returns both parties' original waiting entries (including
// their joinedAt scores) so a caller whose downstream session creation
// fails can Reinsert them without losing queue fairness.
func (m *Manager) Pair(ctx context.Context, userID string, modality types.Modality) (partner types.WaitingEntry, caller types.WaitingEntry, ok bool, err error) {
	key := queueKey(modality)
	lockKey := fmt.Sprintf("lock:matching:%s", modality)

	token, acquired, err := m.ss.TryAcquire(ctx, lockKey, m.lockTTL)
	if err != nil {
		return types.WaitingEntry{}, types.WaitingEntry{}, false, err
	}
	if !acquired {
		return types.WaitingEntry{}, types.WaitingEntry{}, false, nil
	}
	defer func() {
		if relErr := m.ss.Release(ctx, lockKey, token); relErr != nil {
			log.Printf("queue: release lock %s: %v", lockKey, relErr)
		}
	}()

	top, err := m.ss.ZRange(ctx, key, 0, 1)
	if err != nil {
		return types.WaitingEntry{}, types.WaitingEntry{}, false, err
	}
	if len(top) < 2 {
		return types.WaitingEntry{}, types.WaitingEntry{}, false, nil
	}

	var callerID, otherID string
	switch userID {
	case top[0]:
		callerID, otherID = top[0], top[1]
	case top[1]:
		callerID, otherID = top[1], top[0]
	default:
		return types.WaitingEntry{}, types.WaitingEntry{}, false, nil
	}

	callerEntry, callerFound := m.loadEntry(ctx, callerID)
	otherEntry, otherFound := m.loadEntry(ctx, otherID)

	if _, err := m.ss.ZRem(ctx, key, callerID, otherID); err != nil {
		return types.WaitingEntry{}, types.WaitingEntry{}, false, err
	}

	if !otherFound {
		if reinsertErr := m.reinsertCaller(ctx, callerID, modality, callerEntry, callerFound); reinsertErr != nil {
			log.Printf("queue: reinsert caller %s after lost partner: %v", callerID, reinsertErr)
		}
		return types.WaitingEntry{}, types.WaitingEntry{}, false, nil
	}

	m.clearEntry(ctx, callerID)
	m.clearEntry(ctx, otherID)
	return otherEntry, callerEntry, true, nil
}

func (m *Manager) reinsertCaller(ctx context.Context, userID string, modality types.Modality, entry types.WaitingEntry, hadEntry bool) error {
	joinedAt := time.Now()
	if hadEntry {
		joinedAt = entry.JoinedAt
	}
	return m.ss.ZAdd(ctx, queueKey(modality), float64(joinedAt.UnixNano()), userID)
}

// Reinsert restores entry into its modality's queue at its original
// joinedAt score, used to preserve fairness when a paired extraction's
// downstream session creation fails.
func (m *Manager) Reinsert(ctx context.Context, entry types.WaitingEntry) error {
	blob, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := m.ss.Set(ctx, entryKey(entry.UserID), string(blob), m.timeout); err != nil {
		return err
	}
	if err := m.ss.Set(ctx, userModalityKey(entry.UserID), string(entry.Modality), m.timeout); err != nil {
		return err
	}
	return m.ss.ZAdd(ctx, queueKey(entry.Modality), float64(entry.JoinedAt.UnixNano()), entry.UserID)
}

// Peek returns the n longest-waiting userIDs in modality without removing them.
func (m *Manager) Peek(ctx context.Context, modality types.Modality, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	return m.ss.ZRange(ctx, queueKey(modality), 0, int64(n-1))
}

// QueueSize returns the number of entries waiting in modality.
func (m *Manager) QueueSize(ctx context.Context, modality types.Modality) (int, error) {
	n, err := m.ss.ZCard(ctx, queueKey(modality))
	return int(n), err
}

func (m *Manager) clearEntry(ctx context.Context, userID string) {
	if err := m.ss.Delete(ctx, entryKey(userID)); err != nil {
		log.Printf("queue: delete sidecar for %s: %v", userID, err)
	}
	if err := m.ss.Delete(ctx, userModalityKey(userID)); err != nil {
		log.Printf("queue: delete user marker for %s: %v", userID, err)
	}
}

func (m *Manager) loadEntry(ctx context.Context, userID string) (types.WaitingEntry, bool) {
	v, ok, err := m.ss.Get(ctx, entryKey(userID))
	if err != nil || !ok {
		return types.WaitingEntry{}, false
	}
	var entry types.WaitingEntry
	if err := json.Unmarshal([]byte(v), &entry); err != nil {
		log.Printf("queue: corrupt sidecar for %s: %v", userID, err)
		return types.WaitingEntry{}, false
	}
	return entry, true
}

// ModalityOf reports which modality userID is currently queued in, if any.
func (m *Manager) ModalityOf(ctx context.Context, userID string) (types.Modality, bool, error) {
	v, ok, err := m.ss.Get(ctx, userModalityKey(userID))
	if err != nil || !ok {
		return "", false, err
	}
	return types.Modality(v), true, nil
}

// RemoveFromAll dequeues userID from whichever modality it is waiting in, if
// any. It is safe to call for a user that is not queued.
func (m *Manager) RemoveFromAll(ctx context.Context, userID string) error {
	modality, ok, err := m.ModalityOf(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	_, err = m.Dequeue(ctx, userID, modality)
	return err
}

// Position returns userID's 1-based position in modality's queue, or 0 if absent.
func (m *Manager) Position(ctx context.Context, userID string, modality types.Modality) (int, error) {
	rank, ok, err := m.ss.ZRank(ctx, queueKey(modality), userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return int(rank) + 1, nil
}

// SweepStale removes entries across every modality whose joinedAt predates
// now-QUEUE_TIMEOUT, returning the total removed.
func (m *Manager) SweepStale(ctx context.Context) (int, error) {
	cutoff := float64(time.Now().Add(-m.timeout).UnixNano())
	var total int
	for _, modality := range allModalities {
		key := queueKey(modality)
		stale, err := m.ss.ZRange(ctx, key, 0, -1)
		if err != nil {
			return total, err
		}
		var toRemove []string
		for _, userID := range stale {
			entry, ok := m.loadEntry(ctx, userID)
			if !ok || float64(entry.JoinedAt.UnixNano()) < cutoff {
				toRemove = append(toRemove, userID)
			}
		}
		if len(toRemove) == 0 {
			continue
		}
		removed, err := m.ss.ZRem(ctx, key, toRemove...)
		if err != nil {
			return total, err
		}
		for _, userID := range toRemove {
			m.clearEntry(ctx, userID)
		}
		total += int(removed)
	}
	return total, nil
}
