package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caravel/internal/event"
	"caravel/internal/idempotency"
	"caravel/internal/observability"
	"caravel/internal/reliability"
)

// Publisher sends an event onto a named channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, e event.Event) error
}

// Fulfiller runs the fulfillment (ERP) step for an order. A returned
// error means the step gave up after its own retry budget.
type Fulfiller interface {
	Fulfill(ctx context.Context, orderID, sagaID string) error
}

// StatusListener observes order status transitions (e.g. the realtime
// hub). Optional.
type StatusListener interface {
	OrderStatusChanged(o Order, reason string)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Orders      OrderStore
	Publisher   Publisher
	Fulfillment Fulfiller
	Retry       reliability.RetryPolicy
	Logger      *slog.Logger
	Listener    StatusListener
	Metrics     *observability.Metrics
}

// Coordinator drives an order from creation to completion or
// cancellation by reacting to events. Saga state is not stored
// separately; it is the order's status plus the sagaId correlation.
type Coordinator struct {
	orders      OrderStore
	publisher   Publisher
	fulfillment Fulfiller
	retry       reliability.RetryPolicy
	logger      *slog.Logger
	listener    StatusListener
	metrics     *observability.Metrics

	// perOrder serializes handling per order id on top of the broker's
	// partition ordering, so a direct entry-point call cannot interleave
	// with an in-flight response for the same order.
	perOrder *idempotency.KeyMutex
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		orders:      cfg.Orders,
		publisher:   cfg.Publisher,
		fulfillment: cfg.Fulfillment,
		retry:       cfg.Retry,
		logger:      logger,
		listener:    cfg.Listener,
		metrics:     cfg.Metrics,
		perOrder:    idempotency.NewKeyMutex(),
	}
}

// OnOrderCreated starts the saga for a freshly persisted order: it
// requests a payment charge and advances the order to
// PAYMENT_PROCESSING. Retry exhaustion escalates to the saga-start
// dead-letter channel and cancels the order; the process keeps running.
func (c *Coordinator) OnOrderCreated(ctx context.Context, o Order) {
	unlock := c.perOrder.Lock(o.ID)
	defer unlock()

	ev := event.OrderCreated{
		Meta:       event.Meta{OrderID: o.ID, SagaID: o.SagaID},
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
	}

	span := c.metrics.StartStep("saga-start")
	err := c.retry.Do(ctx, func() error {
		return c.publisher.Publish(ctx, event.TopicPaymentRequests, ev)
	})
	span.End(err)
	if err != nil {
		c.escalate(ctx, event.TopicSagaStartDLQ, ev,
			fmt.Sprintf("saga start failed after retries: %v", err))
		return
	}

	c.transition(ctx, o.ID, o.SagaID, StatusPaymentProcessing, "")
}

// HandlePaymentResponse reacts to PaymentProcessed and PaymentFailed
// events from the payment side. Retry exhaustion escalates to the
// saga-operations dead-letter channel and cancels the order.
func (c *Coordinator) HandlePaymentResponse(ctx context.Context, e event.Event) error {
	meta := e.EventMeta()

	unlock := c.perOrder.Lock(meta.OrderID)
	defer unlock()

	c.metrics.EventConsumed(event.TopicPaymentResponses)

	span := c.metrics.StartStep("payment-response")
	err := c.retry.Do(ctx, func() error {
		return c.handlePaymentResponse(ctx, e)
	})
	span.End(err)
	if err != nil {
		c.escalate(ctx, event.TopicSagaOperationsDLQ, e,
			fmt.Sprintf("payment response handling failed after retries: %v", err))
	}
	return nil
}

func (c *Coordinator) handlePaymentResponse(ctx context.Context, e event.Event) error {
	meta := e.EventMeta()

	o, err := c.orders.FindByID(ctx, meta.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			c.logger.Warn("payment response for unknown order",
				"order_id", meta.OrderID, "saga_id", meta.SagaID)
			return nil
		}
		return err
	}
	if o.SagaID != meta.SagaID {
		// A stale event from an earlier saga attempt must not mutate a
		// newer one.
		c.logger.Warn("saga correlation mismatch, rejecting event",
			"order_id", o.ID, "order_saga_id", o.SagaID, "event_saga_id", meta.SagaID,
			"event", string(e.EventType()))
		return nil
	}
	if o.Status.Terminal() {
		c.logger.Info("discarding event for terminal order",
			"order_id", o.ID, "status", string(o.Status), "event", string(e.EventType()))
		return nil
	}

	switch ev := e.(type) {
	case event.PaymentProcessed:
		return c.onPaymentProcessed(ctx, o, ev)
	case event.PaymentFailed:
		return c.cancel(ctx, o, ev.Reason)
	default:
		c.logger.Warn("unexpected event on payment responses",
			"order_id", o.ID, "event", string(e.EventType()))
		return nil
	}
}

func (c *Coordinator) onPaymentProcessed(ctx context.Context, o Order, ev event.PaymentProcessed) error {
	c.logger.Info("payment captured, invoking fulfillment",
		"order_id", o.ID, "saga_id", o.SagaID, "payment_id", ev.PaymentID)

	if err := c.setStatus(ctx, &o, StatusERPProcessing, ""); err != nil {
		return err
	}

	if err := c.fulfillment.Fulfill(ctx, o.ID, o.SagaID); err != nil {
		// Payment is captured; the only compensable effect. Request a
		// refund, guarded by its own idempotency key on the payment side
		// so a redelivered failure cannot double-refund.
		comp := event.ERPFailed{
			Meta:   event.Meta{OrderID: o.ID, SagaID: o.SagaID},
			Reason: fmt.Sprintf("erp update failed: %v", err),
		}
		if perr := c.publisher.Publish(ctx, event.TopicPaymentCompensations, comp); perr != nil {
			return perr
		}
		c.metrics.CompensationRequested()
		return c.cancel(ctx, o, fmt.Sprintf("erp update failed: %v", err))
	}

	return c.complete(ctx, o)
}

func (c *Coordinator) complete(ctx context.Context, o Order) error {
	if err := c.setStatus(ctx, &o, StatusCompleted, ""); err != nil {
		return err
	}
	c.announce(ctx, event.OrderCompleted{Meta: event.Meta{OrderID: o.ID, SagaID: o.SagaID}})
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, o Order, reason string) error {
	if err := c.setStatus(ctx, &o, StatusCancelled, reason); err != nil {
		return err
	}
	c.announce(ctx, event.OrderCancelled{
		Meta:   event.Meta{OrderID: o.ID, SagaID: o.SagaID},
		Reason: reason,
	})
	return nil
}

func (c *Coordinator) setStatus(ctx context.Context, o *Order, status Status, reason string) error {
	o.Status = status
	if err := c.orders.Save(ctx, *o); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	c.metrics.StatusTransition(string(status))
	if c.listener != nil {
		c.listener.OrderStatusChanged(*o, reason)
	}
	c.logger.Info("order status changed",
		"order_id", o.ID, "saga_id", o.SagaID, "status", string(status), "reason", reason)
	return nil
}

// transition loads the order and applies the status, keeping the
// terminal and correlation guards in one place.
func (c *Coordinator) transition(ctx context.Context, orderID, sagaID string, status Status, reason string) {
	o, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		c.logger.Error("load order for transition", "order_id", orderID, "error", err)
		return
	}
	if o.SagaID != sagaID || o.Status.Terminal() {
		return
	}
	if err := c.setStatus(ctx, &o, status, reason); err != nil {
		c.logger.Error("apply transition", "order_id", orderID, "error", err)
	}
}

// announce publishes a terminal-state event on the order-status channel.
// Failures are logged only: the stored status is the source of truth.
func (c *Coordinator) announce(ctx context.Context, e event.Event) {
	if err := c.publisher.Publish(ctx, event.TopicOrderStatus, e); err != nil {
		c.logger.Error("publish order status",
			"order_id", e.EventMeta().OrderID, "event", string(e.EventType()), "error", err)
	}
}

// escalate sends the original event, unchanged, to a dead-letter
// channel and cancels the order. Fatal to the saga, never to the
// process.
func (c *Coordinator) escalate(ctx context.Context, dlqTopic string, e event.Event, reason string) {
	c.metrics.RetryExhausted()
	meta := e.EventMeta()

	c.logger.Error("retries exhausted, escalating to dead letter",
		"topic", dlqTopic, "order_id", meta.OrderID, "saga_id", meta.SagaID, "reason", reason)

	if err := c.publisher.Publish(ctx, dlqTopic, e); err != nil {
		c.logger.Error("dead letter publish failed",
			"topic", dlqTopic, "order_id", meta.OrderID, "error", err)
	}

	o, err := c.orders.FindByID(ctx, meta.OrderID)
	if err != nil {
		c.logger.Error("load order for cancellation", "order_id", meta.OrderID, "error", err)
		return
	}
	if o.SagaID != meta.SagaID || o.Status.Terminal() {
		return
	}
	if err := c.cancel(ctx, o, reason); err != nil {
		c.logger.Error("cancel order after escalation", "order_id", o.ID, "error", err)
	}
}
