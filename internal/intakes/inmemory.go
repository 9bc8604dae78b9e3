package intakes

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a simple in-process intake store for local/dev use.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	byID      map[int64]Intake
	bySession map[string]int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[int64]Intake),
		bySession: make(map[string]int64),
	}
}

func (s *InMemoryStore) Save(_ context.Context, in Intake) (Intake, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySession[in.SessionID]; ok {
		return s.byID[id], false, nil
	}
	in = normalize(in)
	s.nextID++
	in.ID = s.nextID
	s.byID[in.ID] = in
	s.bySession[in.SessionID] = in.ID
	return in, true, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Intake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Intake, 0, len(s.byID))
	for _, in := range s.byID {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) GetBySessionID(_ context.Context, sessionID string) (Intake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return Intake{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) GetByID(_ context.Context, id int64) (Intake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.byID[id]
	if !ok {
		return Intake{}, ErrNotFound
	}
	return in, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	delete(s.bySession, in.SessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
