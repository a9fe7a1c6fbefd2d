package saga

import (
	"context"
	"sync"
)

// MemoryOrderStore keeps orders in memory. Used as a fallback when no
// database is configured, and in tests.
type MemoryOrderStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

// NewMemoryOrderStore constructs an empty store.
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]Order)}
}

func (s *MemoryOrderStore) FindByID(ctx context.Context, id string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *MemoryOrderStore) Save(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}
