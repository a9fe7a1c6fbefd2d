package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caravel/internal/idempotency"
	"caravel/internal/observability"
	"caravel/internal/reliability"
)

// ErrTimeout classifies a remote call that exceeded its per-call
// timeout. It is transient for retry purposes even though the
// underlying cause is a context deadline.
var ErrTimeout = errors.New("step timed out")

// ExecutorConfig wires an Executor around one named remote dependency.
type ExecutorConfig struct {
	Name    string
	Store   idempotency.Store
	Locks   *idempotency.KeyMutex
	Breaker *reliability.CircuitBreaker
	Limiter *reliability.RateLimiter
	Retry   reliability.RetryPolicy
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Executor runs exactly one externally visible side effect per
// idempotency key: per-key lock, idempotency short-circuit, then
// retry(timeout(breaker(call))), recording the outcome on success.
type Executor struct {
	name    string
	store   idempotency.Store
	locks   *idempotency.KeyMutex
	breaker *reliability.CircuitBreaker
	limiter *reliability.RateLimiter
	retry   reliability.RetryPolicy
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := cfg.Locks
	if locks == nil {
		locks = idempotency.NewKeyMutex()
	}
	return &Executor{
		name:    cfg.Name,
		store:   cfg.Store,
		locks:   locks,
		breaker: cfg.Breaker,
		limiter: cfg.Limiter,
		retry:   cfg.Retry,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: cfg.Metrics,
	}
}

// Execute runs call under the key's critical section. If the key was
// already processed within the TTL window the stored outcome is
// returned with replayed=true and the remote effect is not re-invoked.
// Once call succeeds the outcome is always returned, even when the
// idempotency marker cannot be stored.
func (x *Executor) Execute(ctx context.Context, key string, call func(ctx context.Context) (string, error)) (outcome string, replayed bool, err error) {
	unlock := x.locks.Lock(key)
	defer unlock()

	done, err := x.store.HasProcessed(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("idempotency check %s: %w", key, err)
	}
	if done {
		stored, err := x.store.Outcome(ctx, key)
		if err != nil && !errors.Is(err, idempotency.ErrNotFound) {
			return "", false, fmt.Errorf("idempotency outcome %s: %w", key, err)
		}
		x.metrics.StepReplayed(x.name)
		x.logger.Info("duplicate delivery absorbed",
			"step", x.name, "key", key, "outcome", stored)
		return stored, true, nil
	}

	span := x.metrics.StartStep(x.name)
	err = x.retry.Do(ctx, func() error {
		return x.attempt(ctx, key, call, &outcome)
	})
	span.End(err)
	if err != nil {
		return "", false, err
	}

	// The remote effect is already in hand; a lost marker must not turn
	// into a reported failure, or the caller compensates an effect that
	// happened. Redelivery may repeat the effect until the store recovers.
	if err := x.recordOutcome(ctx, key, outcome); err != nil {
		x.logger.Error("record outcome failed",
			"step", x.name, "key", key, "outcome", outcome, "error", err)
	}
	return outcome, false, nil
}

func (x *Executor) recordOutcome(ctx context.Context, key, outcome string) error {
	err := x.retry.Do(ctx, func() error {
		return x.store.RecordProcessed(ctx, key, outcome)
	})
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", key, err)
	}
	return nil
}

func (x *Executor) attempt(ctx context.Context, key string, call func(ctx context.Context) (string, error), outcome *string) error {
	callCtx := ctx
	var cancel context.CancelFunc
	if x.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	if x.limiter != nil {
		if err := x.limiter.Wait(callCtx); err != nil {
			return err
		}
	}

	run := func() error {
		result, err := call(callCtx)
		if err != nil {
			return err
		}
		*outcome = result
		return nil
	}

	var err error
	if x.breaker != nil {
		err = x.breaker.Execute(run)
	} else {
		err = run()
	}

	// A per-call timeout is a transient dependency failure, not a caller
	// cancellation; reclassify so the retry policy treats it as such.
	if err != nil && callCtx.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
