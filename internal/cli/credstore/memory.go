package credstore

import (
	"sync"
)

type memoryBackend struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewMemoryStore returns a Store that lives only as long as the process
func NewMemoryStore() Store {
	return newPairStore(&memoryBackend{entries: make(map[string]string)})
}

func (m *memoryBackend) get(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryBackend) set(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = value
	return nil
}

func (m *memoryBackend) delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[name]; !ok {
		return ErrNotFound
	}
	delete(m.entries, name)
	return nil
}
