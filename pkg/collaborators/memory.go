package collaborators

import (
	"context"
	"sync"

	"pairbridge/pkg/types"
)

// MemoryStore is an in-process UserRepository/FriendRepository/
// ReportRepository fake for tests and local development without SQLite.
type MemoryStore struct {
	mu       sync.Mutex
	usernames map[string]string
	banned    map[string]bool
	friends   map[string]bool
	reports   []*types.Report
}

// NewMemoryStore builds an empty fake collaborator store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usernames: make(map[string]string),
		banned:    make(map[string]bool),
		friends:   make(map[string]bool),
	}
}

func (m *MemoryStore) SetUsername(userID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usernames[userID] = username
}

func (m *MemoryStore) SetBanned(userID string, banned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banned[userID] = banned
}

func (m *MemoryStore) SetFriends(userA, userB string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.friends[friendKey(userA, userB)] = true
}

func (m *MemoryStore) GetUsername(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usernames[userID], nil
}

func (m *MemoryStore) IsBanned(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.banned[userID], nil
}

func (m *MemoryStore) AreFriends(ctx context.Context, userA, userB string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.friends[friendKey(userA, userB)], nil
}

func (m *MemoryStore) CreateReport(ctx context.Context, report *types.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return nil
}

func (m *MemoryStore) Reports() []*types.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Report, len(m.reports))
	copy(out, m.reports)
	return out
}

func friendKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}
