package config

import (
	"testing"
	"time"

	"caravel/internal/idempotency"
)

func clearEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		t.Setenv(name, "")
	}
}

func TestLoadRedis_Defaults(t *testing.T) {
	clearEnv(t,
		"REDIS_URL", "REDIS_DIAL_TIMEOUT", "REDIS_READ_TIMEOUT", "REDIS_WRITE_TIMEOUT",
		"REDIS_POOL_SIZE", "REDIS_MIN_IDLE_CONNS", "REDIS_MAX_RETRIES",
		"REDIS_HEALTHCHECK_TIMEOUT", "IDEMPOTENCY_TTL", "REDIS_OTEL",
		"REDIS_TLS_CA_FILE", "REDIS_TLS_CERT_FILE", "REDIS_TLS_KEY_FILE",
		"REDIS_TLS_SERVER_NAME", "REDIS_TLS_INSECURE_SKIP_VERIFY",
	)

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("LoadRedis: %v", err)
	}
	if cfg.URL != "" {
		t.Fatalf("expected empty url, got %q", cfg.URL)
	}
	if cfg.IdempotencyTTL != idempotency.DefaultTTL {
		t.Fatalf("expected default TTL, got %s", cfg.IdempotencyTTL)
	}
	if cfg.HealthcheckTimeout != 5*time.Second {
		t.Fatalf("expected default healthcheck timeout, got %s", cfg.HealthcheckTimeout)
	}
	if cfg.TLSConfig != nil {
		t.Fatalf("expected no TLS config")
	}
}

func TestLoadRedis_Overrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("REDIS_DIAL_TIMEOUT", "2s")
	t.Setenv("REDIS_POOL_SIZE", "16")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("REDIS_OTEL", "true")

	cfg, err := LoadRedis()
	if err != nil {
		t.Fatalf("LoadRedis: %v", err)
	}
	if cfg.URL != "redis://localhost:6379/0" {
		t.Fatalf("unexpected url %q", cfg.URL)
	}
	if cfg.DialTimeout == nil || *cfg.DialTimeout != 2*time.Second {
		t.Fatalf("unexpected dial timeout %v", cfg.DialTimeout)
	}
	if cfg.PoolSize == nil || *cfg.PoolSize != 16 {
		t.Fatalf("unexpected pool size %v", cfg.PoolSize)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Fatalf("unexpected TTL %s", cfg.IdempotencyTTL)
	}
	if !cfg.EnableOTel {
		t.Fatalf("expected otel enabled")
	}
}

func TestLoadRedis_TLSCertWithoutKey(t *testing.T) {
	t.Setenv("REDIS_TLS_CERT_FILE", "/tmp/cert.pem")
	t.Setenv("REDIS_TLS_KEY_FILE", "")

	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestLoadRedis_InvalidDuration(t *testing.T) {
	t.Setenv("IDEMPOTENCY_TTL", "yesterday")

	if _, err := LoadRedis(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}

func TestLoadSaga_Defaults(t *testing.T) {
	clearEnv(t,
		"SAGA_RETRY_MAX_ATTEMPTS", "SAGA_RETRY_BASE_DELAY", "SAGA_RETRY_MAX_DELAY",
		"STEP_TIMEOUT", "BREAKER_MAX_FAILURES", "BREAKER_RESET_TIMEOUT",
		"PAYMENT_RATE_LIMIT_INTERVAL", "PAYMENT_RATE_LIMIT_BURST",
		"BROKER_PARTITIONS", "BROKER_BUFFER",
	)

	cfg, err := LoadSaga()
	if err != nil {
		t.Fatalf("LoadSaga: %v", err)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Fatalf("unexpected attempts %d", cfg.RetryMaxAttempts)
	}
	if cfg.StepTimeout != 5*time.Second {
		t.Fatalf("unexpected step timeout %s", cfg.StepTimeout)
	}
	if cfg.BrokerPartitions != 4 || cfg.BrokerBuffer != 64 {
		t.Fatalf("unexpected broker settings %d/%d", cfg.BrokerPartitions, cfg.BrokerBuffer)
	}
	if cfg.PaymentRateInterval != 0 || cfg.PaymentRateBurst != 0 {
		t.Fatalf("expected rate limiting disabled by default")
	}
}

func TestLoadSaga_Overrides(t *testing.T) {
	t.Setenv("SAGA_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("SAGA_RETRY_BASE_DELAY", "50ms")
	t.Setenv("STEP_TIMEOUT", "2s")
	t.Setenv("PAYMENT_RATE_LIMIT_INTERVAL", "100ms")
	t.Setenv("PAYMENT_RATE_LIMIT_BURST", "10")

	cfg, err := LoadSaga()
	if err != nil {
		t.Fatalf("LoadSaga: %v", err)
	}
	if cfg.RetryMaxAttempts != 5 {
		t.Fatalf("unexpected attempts %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryBaseDelay != 50*time.Millisecond {
		t.Fatalf("unexpected base delay %s", cfg.RetryBaseDelay)
	}
	if cfg.PaymentRateInterval != 100*time.Millisecond || cfg.PaymentRateBurst != 10 {
		t.Fatalf("unexpected rate limit %s/%d", cfg.PaymentRateInterval, cfg.PaymentRateBurst)
	}
}

func TestLoadSaga_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("SAGA_RETRY_MAX_ATTEMPTS", "0")

	if _, err := LoadSaga(); err == nil {
		t.Fatalf("expected error for zero attempts")
	}
}

func TestLoadHTTPAndObservability_Defaults(t *testing.T) {
	clearEnv(t, "HTTP_ADDR", "OBS_ADDR")

	if got := LoadHTTP().Addr; got != ":8080" {
		t.Fatalf("unexpected http addr %q", got)
	}
	if got := LoadObservability().Addr; got != ":9090" {
		t.Fatalf("unexpected obs addr %q", got)
	}

	t.Setenv("HTTP_ADDR", ":7000")
	if got := LoadHTTP().Addr; got != ":7000" {
		t.Fatalf("unexpected http addr %q", got)
	}
}

func TestLoadAlerting(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", " https://hooks.slack.example/T/B/x ")

	if got := LoadAlerting().SlackWebhookURL; got != "https://hooks.slack.example/T/B/x" {
		t.Fatalf("unexpected webhook %q", got)
	}
}
