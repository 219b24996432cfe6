package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pairbridge/pkg/interfaces"
)

// MemoryStore is an in-process SharedStore used by unit and concurrency
// tests in place of Redis. It mirrors RedisStore's semantics closely
// enough (TTL expiry, fenced locks, sorted-set rank order) that tests
// written against it exercise the same invariants the real store must
// honor.
type MemoryStore struct {
	mu    sync.Mutex
	kv    map[string]memEntry
	zsets map[string]map[string]float64
	locks map[string]memLock
	subs  map[string][]chan string
}

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

type memLock struct {
	token   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]memEntry),
		zsets: make(map[string]map[string]float64),
		locks: make(map[string]memLock),
		subs:  make(map[string][]chan string),
	}
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.kv[key] = memEntry{value: value, expires: expires}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (m *MemoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := sortedMembers(m.zsets[key])
	return sliceRange(members, start, stop), nil
}

func (m *MemoryStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return 0, nil
	}
	var removed int64
	for _, mem := range members {
		if _, ok := set[mem]; ok {
			delete(set, mem)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		return 0, nil
	}
	var removed int64
	for mem, score := range set {
		if score >= min && score <= max {
			delete(set, mem)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.zsets[key])), nil
}

func (m *MemoryStore) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := sortedMembers(m.zsets[key])
	for i, mem := range members {
		if mem == member {
			return int64(i), true, nil
		}
	}
	return 0, false, nil
}

func (m *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (interfaces.Subscription, error) {
	ch := make(chan string, 64)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	sub := &memSubscription{
		store:   m,
		channel: channel,
		ch:      ch,
	}
	return sub, nil
}

func (m *MemoryStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []string
	for k := range m.kv {
		if ok, _ := filepath.Match(pattern, k); ok {
			all = append(all, k)
		}
	}
	sort.Strings(all)
	if cursor >= uint64(len(all)) {
		return nil, 0, nil
	}
	end := cursor + uint64(count)
	if count <= 0 || end > uint64(len(all)) {
		end = uint64(len(all))
	}
	next := end
	if next >= uint64(len(all)) {
		next = 0
	}
	return all[cursor:end], next, nil
}

func (m *MemoryStore) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok && time.Now().Before(l.expires) {
		return "", false, nil
	}
	token, err := randomToken()
	if err != nil {
		return "", false, err
	}
	m.locks[key] = memLock{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

func (m *MemoryStore) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[key]; ok && l.token == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortedMembers(set map[string]float64) []string {
	members := make([]string, 0, len(set))
	for mem := range set {
		members = append(members, mem)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := set[members[i]], set[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})
	return members
}

func sliceRange(items []string, start, stop int64) []string {
	n := int64(len(items))
	if n == 0 {
		return nil
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	return items[start : stop+1]
}

type memSubscription struct {
	store   *MemoryStore
	channel string
	ch      chan string
	once    sync.Once
}

func (s *memSubscription) Channel() <-chan string { return s.ch }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		subs := s.store.subs[s.channel]
		for i, ch := range subs {
			if ch == s.ch {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}

var _ interfaces.SharedStore = (*MemoryStore)(nil)
