package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long an outcome is remembered. It is chosen to
// exceed any plausible redelivery window from the messaging layer;
// replay after expiry is an accepted, bounded risk.
const DefaultTTL = 24 * time.Hour

// Outcome markers recorded against a key.
const (
	OutcomeProcessed   = "PROCESSED"
	OutcomeCompensated = "COMPENSATED"
)

// ErrNotFound indicates no outcome is recorded for the key.
var ErrNotFound = errors.New("idempotency outcome not found")

// Store answers "has this logical operation already happened?". The
// check and record calls are individually safe for concurrent use but
// the check-process-record sequence is not atomic; callers hold a
// KeyMutex section around it.
type Store interface {
	HasProcessed(ctx context.Context, key string) (bool, error)
	RecordProcessed(ctx context.Context, key, outcome string) error
	Outcome(ctx context.Context, key string) (string, error)
	// Remove is for tests and manual cleanup only; production control
	// flow never calls it.
	Remove(ctx context.Context, key string) error
}

// Key derives the idempotency key for a payment charge. Two events with
// the same pair are duplicates regardless of their other fields.
func Key(orderID, sagaID string) string {
	return orderID + ":" + sagaID
}

// CompensationKey derives the idempotency key for a refund.
func CompensationKey(orderID string) string {
	return "compensation:" + orderID
}
