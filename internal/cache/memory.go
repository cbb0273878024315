package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/synesthesie/imagemeta/internal/clock"
)

// DefaultMaxEntries bounds a MemoryBackend created with a zero limit.
const DefaultMaxEntries = 1000

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryBackend is a process-local Backend. When full, the oldest inserted
// entry is evicted. Expired entries are dropped on access and by Purge.
type MemoryBackend struct {
	mu         sync.Mutex
	clock      clock.Clock
	maxEntries int
	order      *list.List
	entries    map[string]*list.Element
}

// NewMemoryBackend creates a backend holding at most maxEntries entries.
func NewMemoryBackend(maxEntries int, clk clock.Clock) *MemoryBackend {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryBackend{
		clock:      clk,
		maxEntries: maxEntries,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !m.clock.Now().Before(entry.expiresAt) {
		m.remove(el)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[key]; ok {
		m.remove(el)
	}
	for m.order.Len() >= m.maxEntries {
		m.remove(m.order.Front())
	}
	entry := &memoryEntry{
		key:       key,
		value:     append([]byte(nil), value...),
		expiresAt: m.clock.Now().Add(ttl),
	}
	m.entries[key] = m.order.PushBack(entry)
	return nil
}

func (m *MemoryBackend) InvalidateAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.entries = make(map[string]*list.Element)
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryBackend) Purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*memoryEntry).expiresAt) {
			m.remove(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryBackend) remove(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memoryEntry).key)
}

// RunJanitor purges expired entries every interval until ctx is done.
func (m *MemoryBackend) RunJanitor(ctx context.Context, interval time.Duration, onPurge func(int)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Purge(); n > 0 && onPurge != nil {
				onPurge(n)
			}
		}
	}
}
