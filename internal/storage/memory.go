package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
)

// MemoryStore is an in-process Store, used by tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, key)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	k, ok := CleanKey(key)
	if !ok {
		return fmt.Errorf("%w: bad key %q", common.ErrInvalidInput, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[k] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
