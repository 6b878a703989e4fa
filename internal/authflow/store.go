package authflow

import (
	"context"
	"sync"
	"time"
)

// Store persists flow state between requests.
type Store interface {
	Save(ctx context.Context, flow Flow) error
	Get(ctx context.Context, id string) (Flow, error)
	Delete(ctx context.Context, id string) error
}

type memoryItem struct {
	flow    Flow
	expires time.Time
}

// MemoryStore keeps flows in process. Entries expire after ttl.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memoryItem
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = FlowTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, items: make(map[string]memoryItem)}
}

func (s *MemoryStore) Save(ctx context.Context, flow Flow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, item := range s.items {
		if now.After(item.expires) {
			delete(s.items, id)
		}
	}
	s.items[flow.ID] = memoryItem{flow: flow, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Flow, error) {
	if err := ctx.Err(); err != nil {
		return Flow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || s.now().After(item.expires) {
		delete(s.items, id)
		return Flow{}, ErrFlowNotFound
	}
	return item.flow, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}
