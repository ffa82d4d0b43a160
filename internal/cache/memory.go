package cache

import (
	"context"
	"sync"
	"time"

	"support-inbox-ai/internal/domain"
)

type memoryEntry struct {
	result    domain.Result
	expiresAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) Has(ctx context.Context, conversationID string, kind domain.Kind) (bool, error) {
	_, ok, err := m.Get(ctx, conversationID, kind)
	return ok, err
}

func (m *Memory) Get(_ context.Context, conversationID string, kind domain.Kind) (domain.Result, bool, error) {
	key := Key(conversationID, kind)
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.result.Clone(), true, nil
}

func (m *Memory) Put(_ context.Context, conversationID string, kind domain.Kind, result domain.Result, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	m.entries[Key(conversationID, kind)] = memoryEntry{
		result:    result.Clone(),
		expiresAt: m.now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Forget(_ context.Context, conversationID string, kind domain.Kind) error {
	m.mu.Lock()
	delete(m.entries, Key(conversationID, kind))
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
