package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-desa/types"
)

type MemoryStore struct {
	logger  types.Logger
	data    map[string][]byte
	mu      sync.RWMutex
	running int32
}

func NewMemoryStore(logger types.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		data:   make(map[string][]byte),
	}
}

func (m *MemoryStore) Type() string { return TypeMemory }

func (m *MemoryStore) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrServerAlreadyRunning
	}
	return nil
}

func (m *MemoryStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrServerNotRunning
	}

	m.mu.Lock()
	m.data = make(map[string][]byte)
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	value, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.data[key] = stored
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	if !m.IsRunning() {
		return types.ErrStorageNotRunning
	}
	return nil
}
