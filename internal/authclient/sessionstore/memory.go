package sessionstore

import "sync"

type MemoryStore struct {
	mu      sync.Mutex
	current *Stored
	queue   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load() (*Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, nil
	}
	cp := *m.current
	return &cp, nil
}

func (m *MemoryStore) Save(s Stored) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	return nil
}

func (m *MemoryStore) QueueRevoke(token string) error {
	if token == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = appendUnique(m.queue, token)
	return nil
}

func (m *MemoryStore) PendingRevokes() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queue...), nil
}

func (m *MemoryStore) AckRevoke(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = without(m.queue, token)
	return nil
}
