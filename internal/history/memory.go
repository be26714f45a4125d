package history

import (
	"context"
	"slices"
	"sync"
)

type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[string][]Round
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rounds: make(map[string][]Round)}
}

func (m *MemoryStore) Save(_ context.Context, r Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rounds[r.RoomCode] = append(m.rounds[r.RoomCode], r)
	return nil
}

func (m *MemoryStore) ListByRoom(_ context.Context, code string, limit int) ([]Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.rounds[code])
	slices.SortStableFunc(out, func(a, b Round) int { return a.ResolvedAt.Compare(b.ResolvedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []Round{}
	}
	return out, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }
