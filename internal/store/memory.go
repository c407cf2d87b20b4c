package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Repository used for ephemeral runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	slots  map[string]Slot
	closed bool
}

// NewMemory returns an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{slots: make(map[string]Slot)}
}

func (m *MemoryStore) GetSlot(_ context.Context, name string) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	slot, ok := m.slots[name]
	if !ok {
		return nil, nil
	}
	slot.Payload = append([]byte(nil), slot.Payload...)
	return &slot, nil
}

func (m *MemoryStore) PutSlot(_ context.Context, name string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.slots[name] = Slot{
		Name:      name,
		Payload:   append([]byte(nil), payload...),
		UpdatedAt: time.Now().UnixMilli(),
	}
	return nil
}

func (m *MemoryStore) DeleteSlot(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.slots, name)
	return nil
}

func (m *MemoryStore) DeleteLegacySlots(_ context.Context, names ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var n int64
	for _, name := range names {
		if _, ok := m.slots[name]; ok {
			delete(m.slots, name)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
