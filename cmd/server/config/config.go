package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"caravel/internal/idempotency"
)

// RedisConfig holds Redis connection settings for the idempotency
// store. URL is optional; when empty the process falls back to the
// in-memory store.
type RedisConfig struct {
	URL                string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	IdempotencyTTL     time.Duration
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// DatabaseConfig holds the Postgres connection string. Optional; when
// empty orders are kept in memory.
type DatabaseConfig struct {
	URL string
}

// SagaConfig holds retry, timeout, breaker, rate limit and broker
// settings for the saga pipeline.
type SagaConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	StepTimeout         time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	PaymentRateInterval time.Duration
	PaymentRateBurst    int
	BrokerPartitions    int
	BrokerBuffer        int
}

// HTTPConfig holds the public API server address.
type HTTPConfig struct {
	Addr string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// AlertingConfig holds the Slack webhook for dead-letter alerts.
// Optional; when empty alerts go to the log only.
type AlertingConfig struct {
	SlackWebhookURL string
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL: strings.TrimSpace(os.Getenv("REDIS_URL")),
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = durationOr("REDIS_HEALTHCHECK_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyTTL, err = durationOr("IDEMPOTENCY_TTL", idempotency.DefaultTTL); err != nil {
		return cfg, err
	}
	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}
	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadDatabase reads the Postgres connection string from env.
func LoadDatabase() DatabaseConfig {
	return DatabaseConfig{URL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// LoadSaga reads saga pipeline settings from env, falling back to
// defaults suited for a single process.
func LoadSaga() (SagaConfig, error) {
	cfg := SagaConfig{}

	var err error
	if cfg.RetryMaxAttempts, err = intOr("SAGA_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationOr("SAGA_RETRY_BASE_DELAY", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = durationOr("SAGA_RETRY_MAX_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.StepTimeout, err = durationOr("STEP_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = intOr("BREAKER_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = durationOr("BREAKER_RESET_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.PaymentRateInterval, err = durationOr("PAYMENT_RATE_LIMIT_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.PaymentRateBurst, err = intOr("PAYMENT_RATE_LIMIT_BURST", 0); err != nil {
		return cfg, err
	}
	if cfg.BrokerPartitions, err = intOr("BROKER_PARTITIONS", 4); err != nil {
		return cfg, err
	}
	if cfg.BrokerBuffer, err = intOr("BROKER_BUFFER", 64); err != nil {
		return cfg, err
	}

	if cfg.RetryMaxAttempts < 1 {
		return cfg, errors.New("SAGA_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	return cfg, nil
}

// LoadHTTP reads the public API server address from env.
func LoadHTTP() HTTPConfig {
	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		addr = ":8080"
	}
	return HTTPConfig{Addr: addr}
}

// LoadObservability reads the metrics HTTP server address from env.
func LoadObservability() ObservabilityConfig {
	addr := strings.TrimSpace(os.Getenv("OBS_ADDR"))
	if addr == "" {
		addr = ":9090"
	}
	return ObservabilityConfig{Addr: addr}
}

// LoadAlerting reads the Slack webhook URL from env.
func LoadAlerting() AlertingConfig {
	return AlertingConfig{SlackWebhookURL: strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL"))}
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func durationOr(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func intOr(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
