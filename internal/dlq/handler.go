package dlq

import (
	"context"
	"fmt"
	"log/slog"

	"caravel/internal/bus"
	"caravel/internal/event"
	"caravel/internal/observability"
)

// Notifier escalates a dead-lettered event to a human channel.
type Notifier interface {
	Notify(ctx context.Context, topic, orderID, reason string) error
}

// Handler is the terminal consumer of the dead-letter channels. It
// records the failure and escalates it; it never republishes, so a
// poison message can not loop.
type Handler struct {
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHandler constructs a Handler.
func NewHandler(notifier Notifier, logger *slog.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{notifier: notifier, logger: logger, metrics: metrics}
}

// Topics lists the dead-letter channels the handler consumes.
func Topics() []string {
	return []string{
		event.TopicSagaOperationsDLQ,
		event.TopicPaymentResponsesDLQ,
		event.TopicERPResponsesDLQ,
		event.TopicSagaStartDLQ,
	}
}

// Attach subscribes the handler to every dead-letter channel.
func (h *Handler) Attach(b *bus.Broker) {
	for _, topic := range Topics() {
		h.Subscribe(topic, b.Subscribe)
	}
}

// Subscribe registers the handler for one topic via the given subscribe
// function. Split out from Attach so tests can wire a bare handler.
func (h *Handler) Subscribe(topic string, subscribe func(string, bus.Handler)) {
	subscribe(topic, func(ctx context.Context, e event.Event) error {
		return h.Handle(ctx, topic, e)
	})
}

// Handle records and escalates one dead letter. It always returns nil:
// the dead-letter channel is the end of the line.
func (h *Handler) Handle(ctx context.Context, topic string, e event.Event) error {
	meta := e.EventMeta()
	reason := reasonFor(topic, e)

	// Keep the full envelope in the log; the dead letter is the last
	// record of this event anywhere.
	payload, err := event.Marshal(e)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", e))
	}

	h.metrics.DeadLettered(topic)
	h.logger.Error("dead letter received",
		"topic", topic,
		"event", string(e.EventType()),
		"order_id", meta.OrderID,
		"saga_id", meta.SagaID,
		"reason", reason,
		"payload", string(payload),
	)

	if h.notifier == nil {
		return nil
	}
	if err := h.notifier.Notify(ctx, topic, meta.OrderID, reason); err != nil {
		// The failure is already logged and counted; a broken notifier
		// must not take the consumer down.
		h.logger.Error("dead letter notification failed",
			"topic", topic, "order_id", meta.OrderID, "error", err)
	}
	return nil
}

// reasonFor prefers the reason carried by the event itself and falls
// back to a per-channel description.
func reasonFor(topic string, e event.Event) string {
	switch ev := e.(type) {
	case event.PaymentFailed:
		return ev.Reason
	case event.ERPFailed:
		return ev.Reason
	case event.OrderCancelled:
		return ev.Reason
	}

	switch topic {
	case event.TopicSagaStartDLQ:
		return "saga start failed after retries"
	case event.TopicPaymentResponsesDLQ:
		return "payment compensation failed after retries"
	case event.TopicERPResponsesDLQ:
		return "erp update failed after retries"
	default:
		return "saga operation failed after retries"
	}
}
