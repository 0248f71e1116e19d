package storage

import (
	"context"
	"sync"
)

// MemoryEngine is a map-backed KV. Nothing survives the process.
type MemoryEngine struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryEngine creates an empty in-memory KV.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string][]byte)}
}

// Get retrieves a copy of the value stored under key.
func (m *MemoryEngine) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

// Apply commits ops under a single lock.
func (m *MemoryEngine) Apply(ctx context.Context, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, op := range ops {
		if op.Delete {
			delete(m.data, string(op.Key))
			continue
		}
		m.data[string(op.Key)] = append([]byte(nil), op.Value...)
	}
	return nil
}

// Close marks the engine closed. Later calls return ErrClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryEngine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
