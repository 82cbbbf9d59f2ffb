package identity

import (
	"context"
	"sync"

	"github.com/nao1215/ecohome/pkg/session"
)

// memoryStore はテスト用のインメモリProfile Store。
type memoryStore struct {
	mu   sync.Mutex
	docs map[string]session.Profile
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: make(map[string]session.Profile)}
}

func (m *memoryStore) Get(_ context.Context, id string) (session.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.docs[id]
	if !ok {
		return session.Profile{}, session.ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (m *memoryStore) Set(_ context.Context, id string, doc session.Profile, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = id
	m.docs[id] = doc.Clone()
	return nil
}
