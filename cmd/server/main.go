package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"caravel/cmd/server/config"
	"caravel/internal/bus"
	"caravel/internal/dlq"
	"caravel/internal/event"
	"caravel/internal/observability"
	"caravel/internal/realtime"
	"caravel/internal/reliability"
	"caravel/internal/saga"
	"caravel/internal/step"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	sagaCfg, err := config.LoadSaga()
	if err != nil {
		return err
	}

	idemStore, cleanupIdem, err := buildIdempotencyStore(ctx)
	if err != nil {
		return err
	}
	defer cleanupIdem()

	orderStore, cleanupOrders, err := buildOrderStore(ctx)
	if err != nil {
		return err
	}
	defer cleanupOrders()

	metrics := observability.NewMetrics()
	broker := bus.New(logger, sagaCfg.BrokerPartitions, sagaCfg.BrokerBuffer)

	retry := reliability.RetryPolicy{
		MaxAttempts: sagaCfg.RetryMaxAttempts,
		BaseDelay:   sagaCfg.RetryBaseDelay,
		MaxDelay:    sagaCfg.RetryMaxDelay,
	}
	paymentBreaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:  sagaCfg.BreakerMaxFailures,
		ResetTimeout: sagaCfg.BreakerResetTimeout,
		OnOpen:       func() { metrics.BreakerOpened("payment") },
	})
	erpBreaker := reliability.NewCircuitBreaker(reliability.CircuitBreakerConfig{
		MaxFailures:  sagaCfg.BreakerMaxFailures,
		ResetTimeout: sagaCfg.BreakerResetTimeout,
		OnOpen:       func() { metrics.BreakerOpened("erp") },
	})

	var paymentLimiter *reliability.RateLimiter
	if sagaCfg.PaymentRateInterval > 0 && sagaCfg.PaymentRateBurst > 0 {
		paymentLimiter = reliability.NewRateLimiter(sagaCfg.PaymentRateInterval, sagaCfg.PaymentRateBurst)
	}

	gateway := step.NewInMemoryPaymentGateway()
	erpClient := step.NewInMemoryERPClient()

	payments := step.NewPaymentConsumer(step.PaymentConsumerConfig{
		Gateway: gateway,
		Charges: step.NewExecutor(step.ExecutorConfig{
			Name:    "payment-charge",
			Store:   idemStore,
			Breaker: paymentBreaker,
			Limiter: paymentLimiter,
			Retry:   retry,
			Timeout: sagaCfg.StepTimeout,
			Logger:  logger,
			Metrics: metrics,
		}),
		Refunds: step.NewExecutor(step.ExecutorConfig{
			Name:    "payment-refund",
			Store:   idemStore,
			Breaker: paymentBreaker,
			Limiter: paymentLimiter,
			Retry:   retry,
			Timeout: sagaCfg.StepTimeout,
			Logger:  logger,
			Metrics: metrics,
		}),
		Publisher: broker,
		Logger:    logger,
		Metrics:   metrics,
	})

	erpStep := step.NewERPStep(erpClient, step.NewExecutor(step.ExecutorConfig{
		Name:    "erp-update",
		Store:   idemStore,
		Breaker: erpBreaker,
		Retry:   retry,
		Timeout: sagaCfg.StepTimeout,
		Logger:  logger,
		Metrics: metrics,
	}), broker, logger)

	hub := realtime.NewHub(logger)
	go hub.Run()

	coordinator := saga.NewCoordinator(saga.CoordinatorConfig{
		Orders:      orderStore,
		Publisher:   broker,
		Fulfillment: erpStep,
		Retry:       retry,
		Logger:      logger,
		Listener:    hub,
		Metrics:     metrics,
	})
	service := saga.NewService(orderStore, coordinator)

	alerting := config.LoadAlerting()
	var notifier dlq.Notifier = dlq.NewLogNotifier(logger)
	if alerting.SlackWebhookURL != "" {
		notifier = dlq.NewSlackNotifier(alerting.SlackWebhookURL)
	}
	dlqHandler := dlq.NewHandler(notifier, logger, metrics)

	broker.Subscribe(event.TopicPaymentRequests, payments.HandlePaymentRequest)
	broker.Subscribe(event.TopicPaymentCompensations, payments.HandleCompensation)
	broker.Subscribe(event.TopicPaymentResponses, coordinator.HandlePaymentResponse)
	dlqHandler.Attach(broker)

	httpCfg := config.LoadHTTP()
	api := newAPIServer(service, hub, logger)
	apiSrv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: api.routes(),
	}

	obsSrv := startObservabilityServer(metrics)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", httpCfg.Addr)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		// Stop accepting events, then drain in-flight deliveries so no
		// saga is cut off mid-step.
		broker.Close()
		hub.Stop()
		return nil
	case err := <-errCh:
		broker.Close()
		hub.Stop()
		return err
	}
}

func startObservabilityServer(metrics *observability.Metrics) *http.Server {
	cfg := config.LoadObservability()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv
}
