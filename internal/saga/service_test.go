package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"caravel/internal/event"
)

func newTestService(t *testing.T, f *fixture) *Service {
	t.Helper()
	s := NewService(f.store, f.coord)
	ids := 0
	s.newID = func() string {
		ids++
		switch ids % 2 {
		case 1:
			return "order-fixed"
		default:
			return "saga-fixed"
		}
	}
	s.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	}
	return s
}

func TestService_CreateOrderStartsSaga(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := newTestService(t, f)

	o, err := s.CreateOrder(context.Background(), "c1", decimal.RequireFromString("42.50"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if o.ID != "order-fixed" || o.SagaID != "saga-fixed" {
		t.Fatalf("unexpected ids %q/%q", o.ID, o.SagaID)
	}
	if o.Status != StatusPaymentProcessing {
		t.Fatalf("expected returned order to reflect the saga start, got %s", o.Status)
	}
	if !o.Amount.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("unexpected amount %s", o.Amount)
	}
	if o.CreatedAt.IsZero() {
		t.Fatalf("created at not set")
	}
}

func TestService_CreateOrderRejectsNonPositiveAmount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := newTestService(t, f)

	for _, amount := range []string{"0", "-1.50"} {
		_, err := s.CreateOrder(context.Background(), "c1", decimal.RequireFromString(amount))
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
	// Nothing was persisted or published for rejected orders.
	if len(f.publisher.byTopic(event.TopicPaymentRequests)) != 0 {
		t.Fatalf("rejected order started a saga")
	}
}

func TestService_OrderLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := newTestService(t, f)
	f.seedOrder(t, "o1", "s1", StatusCompleted)

	o, err := s.Order(context.Background(), "o1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if o.Status != StatusCompleted {
		t.Fatalf("unexpected status %s", o.Status)
	}

	if _, err := s.Order(context.Background(), "ghost"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
