package store

import (
	"context"
	"sync"
)

// memoryStore keeps at most maxPerSession messages per session so an
// abandoned session cannot grow without bound.
const maxPerSession = 200

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string][]Message)}
}

func (m *memoryStore) Append(_ context.Context, session string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append(m.sessions[session], msg)
	if len(msgs) > maxPerSession {
		msgs = msgs[len(msgs)-maxPerSession:]
	}
	m.sessions[session] = msgs
	return nil
}

func (m *memoryStore) Recent(_ context.Context, session string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.sessions[session]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *memoryStore) Clear(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
	return nil
}

func (m *memoryStore) Close() error { return nil }
