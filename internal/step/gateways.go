package step

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the remote payment dependency. Charge returns the
// gateway's payment id. A business rejection (declined card) is
// reported as a reliability.Permanent error; anything else is treated
// as transient.
type PaymentGateway interface {
	Charge(ctx context.Context, orderID string, amount decimal.Decimal) (string, error)
	Refund(ctx context.Context, orderID string) error
}

// ERPClient is the remote fulfillment dependency.
type ERPClient interface {
	RecordOrder(ctx context.Context, orderID string) error
}

// NewInMemoryPaymentGateway constructs an in-memory gateway.
func NewInMemoryPaymentGateway() *InMemoryPaymentGateway {
	return &InMemoryPaymentGateway{
		charges:  make(map[string]decimal.Decimal),
		refunded: make(map[string]bool),
	}
}

// InMemoryPaymentGateway tracks charges and refunds in memory.
type InMemoryPaymentGateway struct {
	mu       sync.Mutex
	seq      int
	charges  map[string]decimal.Decimal
	refunded map[string]bool
}

func (g *InMemoryPaymentGateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.charges[orderID] = amount
	return "pay-" + orderID, nil
}

func (g *InMemoryPaymentGateway) Refund(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.charges[orderID]; !ok {
		return errors.New("refund without charge")
	}
	g.refunded[orderID] = true
	return nil
}

// WasCharged reports whether an order was charged (for testing/inspection).
func (g *InMemoryPaymentGateway) WasCharged(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.charges[orderID]
	return ok
}

// WasRefunded reports whether an order was refunded (for testing/inspection).
func (g *InMemoryPaymentGateway) WasRefunded(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[orderID]
}

// NewInMemoryERPClient constructs an in-memory ERP client.
func NewInMemoryERPClient() *InMemoryERPClient {
	return &InMemoryERPClient{recorded: make(map[string]bool)}
}

// InMemoryERPClient tracks fulfilled orders in memory.
type InMemoryERPClient struct {
	mu       sync.Mutex
	recorded map[string]bool
}

func (c *InMemoryERPClient) RecordOrder(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded[orderID] = true
	return nil
}

// Recorded reports whether an order reached the ERP (for testing/inspection).
func (c *InMemoryERPClient) Recorded(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recorded[orderID]
}
