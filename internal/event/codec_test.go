package event

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMarshalUnmarshal_OrderCreated(t *testing.T) {
	t.Parallel()

	amount, err := decimal.NewFromString("99.99")
	if err != nil {
		t.Fatalf("decimal: %v", err)
	}
	in := OrderCreated{
		Meta:       Meta{OrderID: "o1", SagaID: "s1"},
		CustomerID: "c1",
		Amount:     amount,
	}

	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"ORDER_CREATED"`) {
		t.Fatalf("missing discriminator in %s", data)
	}

	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := out.(OrderCreated)
	if !ok {
		t.Fatalf("expected OrderCreated, got %T", out)
	}
	if got.OrderID != "o1" || got.SagaID != "s1" || got.CustomerID != "c1" {
		t.Fatalf("unexpected fields: %+v", got)
	}
	if !got.Amount.Equal(amount) {
		t.Fatalf("amount not preserved exactly: %s != %s", got.Amount, amount)
	}
}

func TestMarshalUnmarshal_FailureReason(t *testing.T) {
	t.Parallel()

	data, err := Marshal(PaymentFailed{Meta: Meta{OrderID: "o2", SagaID: "s2"}, Reason: "card declined"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, ok := out.(PaymentFailed)
	if !ok {
		t.Fatalf("expected PaymentFailed, got %T", out)
	}
	if got.Reason != "card declined" {
		t.Fatalf("unexpected reason %q", got.Reason)
	}
}

func TestUnmarshal_RejectsUnknownTag(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"type":"SHIPPING_LOST","orderId":"o1","sagaId":"s1"}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}

func TestUnmarshal_RejectsMissingTag(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"orderId":"o1","sagaId":"s1"}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
}
