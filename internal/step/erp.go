package step

import (
	"context"
	"fmt"
	"log/slog"

	"caravel/internal/event"
	"caravel/internal/idempotency"
)

// ERPStep is the fulfillment wrapper the coordinator invokes after a
// captured payment. Unlike the payment side it is called synchronously;
// the returned error is the coordinator's compensation trigger.
type ERPStep struct {
	client    ERPClient
	exec      *Executor
	publisher Publisher
	logger    *slog.Logger
}

// NewERPStep constructs an ERPStep.
func NewERPStep(client ERPClient, exec *Executor, publisher Publisher, logger *slog.Logger) *ERPStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &ERPStep{
		client:    client,
		exec:      exec,
		publisher: publisher,
		logger:    logger,
	}
}

// Fulfill records the order in the ERP at most once per saga attempt.
// An exhausted retry budget escalates the failure to the ERP
// dead-letter channel and is returned to the caller.
func (s *ERPStep) Fulfill(ctx context.Context, orderID, sagaID string) error {
	key := "erp:" + idempotency.Key(orderID, sagaID)
	_, replayed, err := s.exec.Execute(ctx, key, func(ctx context.Context) (string, error) {
		if err := s.client.RecordOrder(ctx, orderID); err != nil {
			return "", err
		}
		return idempotency.OutcomeProcessed, nil
	})
	if replayed {
		return nil
	}
	if err != nil {
		failure := event.ERPFailed{
			Meta:   event.Meta{OrderID: orderID, SagaID: sagaID},
			Reason: fmt.Sprintf("erp update failed: %v", err),
		}
		if perr := s.publisher.Publish(ctx, event.TopicERPResponsesDLQ, failure); perr != nil {
			s.logger.Error("dead letter publish failed",
				"topic", event.TopicERPResponsesDLQ, "order_id", orderID, "error", perr)
		}
		return err
	}
	return nil
}
