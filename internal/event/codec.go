package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnknownEventType indicates an envelope whose tag is not in the
// catalogue. Callers quarantine such payloads instead of processing them.
var ErrUnknownEventType = errors.New("unknown event type")

// envelope is the flat wire form shared by all variants. Optional fields
// are omitted when a variant does not carry them.
type envelope struct {
	Type       Type             `json:"type"`
	OrderID    string           `json:"orderId"`
	SagaID     string           `json:"sagaId"`
	CustomerID string           `json:"customerId,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	PaymentID  string           `json:"paymentId,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Marshal encodes an event into its self-describing envelope.
func Marshal(e Event) ([]byte, error) {
	meta := e.EventMeta()
	env := envelope{
		Type:    e.EventType(),
		OrderID: meta.OrderID,
		SagaID:  meta.SagaID,
	}

	switch v := e.(type) {
	case OrderCreated:
		amount := v.Amount
		env.CustomerID = v.CustomerID
		env.Amount = &amount
	case PaymentProcessed:
		env.PaymentID = v.PaymentID
	case PaymentFailed:
		env.Reason = v.Reason
	case ERPUpdated:
	case ERPFailed:
		env.Reason = v.Reason
	case OrderCompleted:
	case OrderCancelled:
		env.Reason = v.Reason
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, e)
	}

	return json.Marshal(env)
}

// Unmarshal decodes an envelope back into its concrete event. Envelopes
// with an unrecognized or missing tag are rejected with
// ErrUnknownEventType.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	meta := Meta{OrderID: env.OrderID, SagaID: env.SagaID}

	switch env.Type {
	case TypeOrderCreated:
		ev := OrderCreated{Meta: meta, CustomerID: env.CustomerID}
		if env.Amount != nil {
			ev.Amount = *env.Amount
		}
		return ev, nil
	case TypePaymentProcessed:
		return PaymentProcessed{Meta: meta, PaymentID: env.PaymentID}, nil
	case TypePaymentFailed:
		return PaymentFailed{Meta: meta, Reason: env.Reason}, nil
	case TypeERPUpdated:
		return ERPUpdated{Meta: meta}, nil
	case TypeERPFailed:
		return ERPFailed{Meta: meta, Reason: env.Reason}, nil
	case TypeOrderCompleted:
		return OrderCompleted{Meta: meta}, nil
	case TypeOrderCancelled:
		return OrderCancelled{Meta: meta, Reason: env.Reason}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}
