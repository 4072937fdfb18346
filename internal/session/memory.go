package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"llmgate/internal/core"
)

// MemoryStore keeps sessions in process memory. Suitable for tests and
// one-shot CLI runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]core.Message
	updated  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]core.Message),
		updated:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msg core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	s.updated[sessionID] = time.Now()
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]core.Message(nil), msgs...), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.sessions))
	for id, msgs := range s.sessions {
		infos = append(infos, Info{ID: id, Messages: len(msgs), UpdatedAt: s.updated[id]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.updated, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
