package session

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store implementation: strictly serializable
// (a single mutex guards the whole map), intended for tests and single-
// process deployments. Grounded on the teacher's core.MemoryStore TTL-map
// idiom, generalized with set/list secondary structures and per-key
// advisory locking.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	locks map[string]*sync.Mutex
}

type memoryItem struct {
	value     []byte
	list      []string // used when the key holds an ordered list
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiration
}

func (it memoryItem) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || it.expired(time.Now()) {
		if ok {
			delete(m.items, key)
		}
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || it.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var out []string
	for k, it := range m.items {
		if it.expired(now) {
			continue
		}
		if matched, _ := path.Match(pattern, k); matched {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryStore) Increment(_ context.Context, key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	var current int64
	if ok && !it.expired(time.Now()) {
		current = bytesToInt64(it.value)
	}
	current += delta
	m.items[key] = memoryItem{value: int64ToBytes(current), expiresAt: it.expiresAt}
	return current, nil
}

func (m *MemoryStore) SetTTL(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil
	}
	if ttl > 0 {
		it.expiresAt = time.Now().Add(ttl)
	} else {
		it.expiresAt = time.Time{}
	}
	m.items[key] = it
	return nil
}

func (m *MemoryStore) SetAdd(_ context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[key]
	if it.set == nil {
		it.set = make(map[string]struct{})
	}
	it.set[member] = struct{}{}
	m.items[key] = it
	return nil
}

func (m *MemoryStore) SetRemove(_ context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok || it.set == nil {
		return nil
	}
	delete(it.set, member)
	m.items[key] = it
	return nil
}

func (m *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(it.set))
	for member := range it.set {
		out = append(out, member)
	}
	return out, nil
}

func (m *MemoryStore) ListAppend(_ context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.items[key]
	it.list = append(it.list, member)
	m.items[key] = it
	return nil
}

func (m *MemoryStore) ListRemove(_ context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil
	}
	kept := it.list[:0:0]
	for _, v := range it.list {
		if v != member {
			kept = append(kept, v)
		}
	}
	it.list = kept
	m.items[key] = it
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), it.list...), nil
}

// Lock serializes fn against any other Lock call on the same key, giving
// SessionManager the per-session mutual exclusion §4.3's Concurrency
// paragraph requires for multi-key mutations.
func (m *MemoryStore) Lock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	keyLock, ok := m.locks[key]
	if !ok {
		keyLock = &sync.Mutex{}
		m.locks[key] = keyLock
	}
	m.mu.Unlock()

	keyLock.Lock()
	defer keyLock.Unlock()
	return fn(ctx)
}

func int64ToBytes(v int64) []byte {
	return []byte(strconv.FormatInt(v, 10))
}

func bytesToInt64(b []byte) int64 {
	v, _ := strconv.ParseInt(string(b), 10, 64)
	return v
}
