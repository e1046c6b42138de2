package storage

import (
	"context"
	"sync"
)

// Store is the durable key/value capability backing client preferences.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryStore) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

// NopStore is used when the device offers no persistence: nothing is ever found
// and writes are dropped.
type NopStore struct{}

func (NopStore) Load(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (NopStore) Save(context.Context, string, []byte) error        { return nil }
