package event

import "github.com/shopspring/decimal"

// Type is the discriminator tag carried by every envelope.
type Type string

const (
	TypeOrderCreated     Type = "ORDER_CREATED"
	TypePaymentProcessed Type = "PAYMENT_PROCESSED"
	TypePaymentFailed    Type = "PAYMENT_FAILED"
	TypeERPUpdated       Type = "ERP_UPDATED"
	TypeERPFailed        Type = "ERP_FAILED"
	TypeOrderCompleted   Type = "ORDER_COMPLETED"
	TypeOrderCancelled   Type = "ORDER_CANCELLED"
)

// Meta is the correlation pair every event carries. OrderID and SagaID
// must match the originating order for the lifetime of the saga.
type Meta struct {
	OrderID string `json:"orderId"`
	SagaID  string `json:"sagaId"`
}

// EventMeta returns the correlation pair.
func (m Meta) EventMeta() Meta { return m }

// Event is the closed set of saga events. Every consumption point
// switches exhaustively over the concrete types below.
type Event interface {
	EventType() Type
	EventMeta() Meta
}

// OrderCreated starts a saga and requests a payment charge.
type OrderCreated struct {
	Meta
	CustomerID string          `json:"customerId"`
	Amount     decimal.Decimal `json:"amount"`
}

func (OrderCreated) EventType() Type { return TypeOrderCreated }

// PaymentProcessed reports a successfully captured charge.
type PaymentProcessed struct {
	Meta
	PaymentID string `json:"paymentId"`
}

func (PaymentProcessed) EventType() Type { return TypePaymentProcessed }

// PaymentFailed reports a charge that was rejected or gave up.
type PaymentFailed struct {
	Meta
	Reason string `json:"reason"`
}

func (PaymentFailed) EventType() Type { return TypePaymentFailed }

// ERPUpdated reports a successful fulfillment update.
type ERPUpdated struct {
	Meta
}

func (ERPUpdated) EventType() Type { return TypeERPUpdated }

// ERPFailed reports a fulfillment failure; it doubles as the
// compensation trigger on the payment-compensations channel.
type ERPFailed struct {
	Meta
	Reason string `json:"reason"`
}

func (ERPFailed) EventType() Type { return TypeERPFailed }

// OrderCompleted marks the saga's terminal success.
type OrderCompleted struct {
	Meta
}

func (OrderCompleted) EventType() Type { return TypeOrderCompleted }

// OrderCancelled marks the saga's terminal failure.
type OrderCancelled struct {
	Meta
	Reason string `json:"reason"`
}

func (OrderCancelled) EventType() Type { return TypeOrderCancelled }
