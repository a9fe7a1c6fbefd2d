package saga_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caravel/internal/bus"
	"caravel/internal/event"
	"caravel/internal/idempotency"
	"caravel/internal/reliability"
	"caravel/internal/saga"
	"caravel/internal/step"
)

// scriptedGateway wraps the in-memory gateway and fails the first
// charges or refunds with the scripted errors.
type scriptedGateway struct {
	*step.InMemoryPaymentGateway
	mu         sync.Mutex
	chargeErrs []error
	refundErrs []error
}

func (g *scriptedGateway) Charge(ctx context.Context, orderID string, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	var err error
	if len(g.chargeErrs) > 0 {
		err = g.chargeErrs[0]
		g.chargeErrs = g.chargeErrs[1:]
	}
	g.mu.Unlock()
	if err != nil {
		return "", err
	}
	return g.InMemoryPaymentGateway.Charge(ctx, orderID, amount)
}

func (g *scriptedGateway) Refund(ctx context.Context, orderID string) error {
	g.mu.Lock()
	var err error
	if len(g.refundErrs) > 0 {
		err = g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	return g.InMemoryPaymentGateway.Refund(ctx, orderID)
}

type scriptedERP struct {
	*step.InMemoryERPClient
	mu   sync.Mutex
	errs []error
}

func (c *scriptedERP) RecordOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	var err error
	if len(c.errs) > 0 {
		err = c.errs[0]
		c.errs = c.errs[1:]
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.InMemoryERPClient.RecordOrder(ctx, orderID)
}

type system struct {
	service *saga.Service
	store   *saga.MemoryOrderStore
	gateway *scriptedGateway
	erp     *scriptedERP
	broker  *bus.Broker
}

// newSystem wires the full pipeline in process: broker, payment
// consumer, ERP step and coordinator, exactly as cmd/server does but
// with in-memory dependencies.
func newSystem(t *testing.T) *system {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	retry := reliability.RetryPolicy{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		Jitter:      func(d time.Duration) time.Duration { return d },
	}

	broker := bus.New(logger, 4, 64)
	t.Cleanup(broker.Close)

	idemStore := idempotency.NewMemoryStore(time.Hour)
	gateway := &scriptedGateway{InMemoryPaymentGateway: step.NewInMemoryPaymentGateway()}
	erp := &scriptedERP{InMemoryERPClient: step.NewInMemoryERPClient()}

	payments := step.NewPaymentConsumer(step.PaymentConsumerConfig{
		Gateway: gateway,
		Charges: step.NewExecutor(step.ExecutorConfig{
			Name:   "payment-charge",
			Store:  idemStore,
			Retry:  retry,
			Logger: logger,
		}),
		Refunds: step.NewExecutor(step.ExecutorConfig{
			Name:   "payment-refund",
			Store:  idemStore,
			Retry:  retry,
			Logger: logger,
		}),
		Publisher: broker,
		Logger:    logger,
	})

	erpStep := step.NewERPStep(erp, step.NewExecutor(step.ExecutorConfig{
		Name:   "erp-update",
		Store:  idemStore,
		Retry:  retry,
		Logger: logger,
	}), broker, logger)

	store := saga.NewMemoryOrderStore()
	coord := saga.NewCoordinator(saga.CoordinatorConfig{
		Orders:      store,
		Publisher:   broker,
		Fulfillment: erpStep,
		Retry:       retry,
		Logger:      logger,
	})

	broker.Subscribe(event.TopicPaymentRequests, payments.HandlePaymentRequest)
	broker.Subscribe(event.TopicPaymentCompensations, payments.HandleCompensation)
	broker.Subscribe(event.TopicPaymentResponses, coord.HandlePaymentResponse)

	return &system{
		service: saga.NewService(store, coord),
		store:   store,
		gateway: gateway,
		erp:     erp,
		broker:  broker,
	}
}

func (s *system) waitForStatus(t *testing.T, orderID string, want saga.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		o, err := s.store.FindByID(context.Background(), orderID)
		if err == nil && o.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	o, _ := s.store.FindByID(context.Background(), orderID)
	t.Fatalf("order %s never reached %s (last status %s)", orderID, want, o.Status)
}

func TestSaga_HappyPathCompletes(t *testing.T) {
	sys := newSystem(t)

	o, err := sys.service.CreateOrder(context.Background(), "c1", decimal.RequireFromString("99.99"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sys.waitForStatus(t, o.ID, saga.StatusCompleted)

	if !sys.gateway.WasCharged(o.ID) {
		t.Fatalf("order was not charged")
	}
	if sys.gateway.WasRefunded(o.ID) {
		t.Fatalf("completed order was refunded")
	}
	if !sys.erp.Recorded(o.ID) {
		t.Fatalf("order never reached the erp")
	}
}

func TestSaga_DeclinedCardCancelsWithoutRefund(t *testing.T) {
	sys := newSystem(t)
	sys.gateway.chargeErrs = []error{
		reliability.Permanent(errors.New("card declined")),
	}

	o, err := sys.service.CreateOrder(context.Background(), "c1", decimal.RequireFromString("10.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sys.waitForStatus(t, o.ID, saga.StatusCancelled)

	if sys.gateway.WasCharged(o.ID) {
		t.Fatalf("declined order was charged")
	}
	if sys.gateway.WasRefunded(o.ID) {
		t.Fatalf("nothing to refund for a declined card")
	}
	if sys.erp.Recorded(o.ID) {
		t.Fatalf("cancelled order reached the erp")
	}
}

func TestSaga_ERPFailureRefundsAndCancels(t *testing.T) {
	sys := newSystem(t)
	down := errors.New("erp unreachable")
	sys.erp.errs = []error{down, down, down}

	o, err := sys.service.CreateOrder(context.Background(), "c1", decimal.RequireFromString("10.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sys.waitForStatus(t, o.ID, saga.StatusCancelled)

	if !sys.gateway.WasCharged(o.ID) {
		t.Fatalf("order was not charged before the erp step")
	}

	// The refund flows through payment-compensations asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for !sys.gateway.WasRefunded(o.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("captured payment was never refunded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSaga_TransientPaymentFailureRecovers(t *testing.T) {
	sys := newSystem(t)
	sys.gateway.chargeErrs = []error{errors.New("connection reset")}

	o, err := sys.service.CreateOrder(context.Background(), "c1", decimal.RequireFromString("10.00"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sys.waitForStatus(t, o.ID, saga.StatusCompleted)

	if !sys.gateway.WasCharged(o.ID) {
		t.Fatalf("order was not charged after retry")
	}
}
