package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process OverrideStore for tests and ephemeral runs.
type MemoryStore struct {
	mu     sync.Mutex
	sets   OverrideSets
	closed bool

	// SaveCount counts committed saves, for tests.
	SaveCount int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (OverrideSets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return OverrideSets{}, ErrClosed
	}
	return m.sets.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, sets OverrideSets) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sets = sets.Clone()
	m.SaveCount++
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
