package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service is the order-creation entry point. It owns the order record;
// everything after creation is driven by the coordinator.
type Service struct {
	store       OrderStore
	coordinator *Coordinator
	now         func() time.Time
	newID       func() string
}

// NewService constructs a Service.
func NewService(store OrderStore, coordinator *Coordinator) *Service {
	return &Service{
		store:       store,
		coordinator: coordinator,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateOrder validates the amount, persists a PENDING order with a
// fresh saga correlation id and starts the saga. The returned order
// reflects any status the saga start already applied.
func (s *Service) CreateOrder(ctx context.Context, customerID string, amount decimal.Decimal) (Order, error) {
	if amount.Sign() <= 0 {
		return Order{}, ErrInvalidAmount
	}

	o := Order{
		ID:         s.newID(),
		CustomerID: customerID,
		Amount:     amount,
		Status:     StatusPending,
		SagaID:     s.newID(),
		CreatedAt:  s.now(),
	}
	if err := s.store.Save(ctx, o); err != nil {
		return Order{}, err
	}

	s.coordinator.OnOrderCreated(ctx, o)

	current, err := s.store.FindByID(ctx, o.ID)
	if err != nil {
		return o, nil
	}
	return current, nil
}

// Order returns the stored order; its status is the externally
// observable saga outcome.
func (s *Service) Order(ctx context.Context, id string) (Order, error) {
	return s.store.FindByID(ctx, id)
}
