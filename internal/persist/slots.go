package persist

import (
	"context"
	"sync"
)

// SlotStorage is durable key/value storage for serialized store state.
// ReadSlot reports ok=false for a slot that was never written.
type SlotStorage interface {
	ReadSlot(ctx context.Context, key string) (value string, ok bool, err error)
	WriteSlot(ctx context.Context, key, value string) error
	DeleteSlot(ctx context.Context, key string) error
}

// MemorySlots keeps slots in process memory. State survives store re-creation
// within one process, which is what tests and the "memory" backend need.
type MemorySlots struct {
	mu    sync.RWMutex
	slots map[string]string
}

// NewMemorySlots creates an empty MemorySlots.
func NewMemorySlots() *MemorySlots {
	return &MemorySlots{slots: make(map[string]string)}
}

func (m *MemorySlots) ReadSlot(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	return v, ok, nil
}

func (m *MemorySlots) WriteSlot(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[key] = value
	return nil
}

func (m *MemorySlots) DeleteSlot(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
