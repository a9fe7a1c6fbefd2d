package saga

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the order's saga state. It advances monotonically and never
// leaves a terminal state.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPaymentProcessing Status = "PAYMENT_PROCESSING"
	StatusERPProcessing     Status = "ERP_PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Order is the aggregate root of a saga. The coordinator mutates only
// Status; all other fields are immutable after creation. Records are
// retained indefinitely for audit.
type Order struct {
	ID         string
	CustomerID string
	Amount     decimal.Decimal
	Status     Status
	SagaID     string
	CreatedAt  time.Time
}

// OrderStore persists orders. Implementations are durable and
// read-after-write consistent within a process.
type OrderStore interface {
	FindByID(ctx context.Context, id string) (Order, error)
	Save(ctx context.Context, o Order) error
}

var (
	// ErrOrderNotFound indicates the id maps to no stored order.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidAmount indicates a zero or negative amount at creation.
	ErrInvalidAmount = errors.New("order amount must be positive")
)
