package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// InMemory keeps encoded documents in a map. Storing bytes rather than
// pointers keeps callers from sharing mutable flowers through the backend.
type InMemory struct {
	docs map[string][]byte
	mu   sync.RWMutex
}

// NewInMemory creates an empty in-process backend.
func NewInMemory() *InMemory {
	return &InMemory{docs: make(map[string][]byte)}
}

func (m *InMemory) Save(_ context.Context, f *flower.Flower) error {
	data, err := encode(f)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[f.ID] = data
	return nil
}

func (m *InMemory) Load(_ context.Context, id string) (*flower.Flower, error) {
	m.mu.RLock()
	data, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	return decode(id, data)
}

func (m *InMemory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, flower.ErrFlowerNotFound)
	}
	delete(m.docs, id)
	return nil
}

// Raw returns the stored document for id, for round-trip checks.
func (m *InMemory) Raw(id string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[id]
	return data, ok
}
