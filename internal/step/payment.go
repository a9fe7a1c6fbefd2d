package step

import (
	"context"
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

// PaymentConsumer is the payment side of the saga: it charges for
// payment requests and refunds for compensation triggers, both guarded
// by the idempotency store so redelivery never duplicates a financial
// effect.
type PaymentConsumer struct {
	gateway   PaymentGateway
	charges   *Executor
	refunds   *Executor
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// PaymentConsumerConfig wires a PaymentConsumer. Charges and Refunds
// usually share a store and breaker but are separate executors so their
// outcomes are tracked per step.
type PaymentConsumerConfig struct {
	Gateway   PaymentGateway
	Charges   *Executor
	Refunds   *Executor
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// NewPaymentConsumer constructs a PaymentConsumer.
func NewPaymentConsumer(cfg PaymentConsumerConfig) *PaymentConsumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentConsumer{
		gateway:   cfg.Gateway,
		charges:   cfg.Charges,
		refunds:   cfg.Refunds,
		publisher: cfg.Publisher,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// HandlePaymentRequest consumes payment-requests. Success publishes
// PaymentProcessed; a rejection or exhausted retry budget publishes
// PaymentFailed — failures never propagate as errors, the response
// event is how the coordinator learns the outcome.
func (p *PaymentConsumer) HandlePaymentRequest(ctx context.Context, e event.Event) error {
	p.metrics.EventConsumed(event.TopicPaymentRequests)

	req, ok := e.(event.OrderCreated)
	if !ok {
		p.logger.Warn("unexpected event on payment requests", "event", string(e.EventType()))
		return nil
	}

	key := idempotency.Key(req.OrderID, req.SagaID)
	paymentID, replayed, err := p.charges.Execute(ctx, key, func(ctx context.Context) (string, error) {
		return p.gateway.Charge(ctx, req.OrderID, req.Amount)
	})
	if replayed {
		// Already charged for this (orderId, sagaId); skip to avoid a
		// duplicate charge.
		return nil
	}
	if err != nil {
		reason := chargeFailureReason(err)
		p.logger.Warn("payment charge failed",
			"order_id", req.OrderID, "saga_id", req.SagaID, "reason", reason)
		p.publish(ctx, event.TopicPaymentResponses, event.PaymentFailed{Meta: req.Meta, Reason: reason})
		return nil
	}

	p.publish(ctx, event.TopicPaymentResponses, event.PaymentProcessed{Meta: req.Meta, PaymentID: paymentID})
	return nil
}

// HandleCompensation consumes payment-compensations and refunds the
// captured charge at most once per order. Refund is best effort: an
// exhausted retry budget escalates the trigger to the payment
// dead-letter channel for manual follow-up.
func (p *PaymentConsumer) HandleCompensation(ctx context.Context, e event.Event) error {
	p.metrics.EventConsumed(event.TopicPaymentCompensations)
	meta := e.EventMeta()

	key := idempotency.CompensationKey(meta.OrderID)
	_, replayed, err := p.refunds.Execute(ctx, key, func(ctx context.Context) (string, error) {
		if err := p.gateway.Refund(ctx, meta.OrderID); err != nil {
			return "", err
		}
		return idempotency.OutcomeCompensated, nil
	})
	if replayed {
		return nil
	}
	if err != nil {
		p.logger.Error("payment compensation failed",
			"order_id", meta.OrderID, "saga_id", meta.SagaID, "error", err)
		if perr := p.publisher.Publish(ctx, event.TopicPaymentResponsesDLQ, e); perr != nil {
			p.logger.Error("dead letter publish failed",
				"topic", event.TopicPaymentResponsesDLQ, "order_id", meta.OrderID, "error", perr)
		}
		return nil
	}

	p.logger.Info("payment compensated", "order_id", meta.OrderID, "saga_id", meta.SagaID)
	return nil
}

func (p *PaymentConsumer) publish(ctx context.Context, topic string, e event.Event) {
	if err := p.publisher.Publish(ctx, topic, e); err != nil {
		p.logger.Error("publish payment response",
			"topic", topic, "order_id", e.EventMeta().OrderID, "error", err)
	}
}

func chargeFailureReason(err error) string {
	if reliability.IsPermanent(err) {
		return err.Error()
	}
	return fmt.Sprintf("payment service unavailable: %v", err)
}
