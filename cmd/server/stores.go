package main

import (
	"context"
	"database/sql"
	"log"

	"caravel/cmd/server/config"
	ordersdb "caravel/internal/db/orders"
	"caravel/internal/idempotency"
	"caravel/internal/saga"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

var openOrdersDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildIdempotencyStore returns the Redis-backed store when REDIS_URL
// is set, otherwise the in-memory fallback for single-process runs.
func buildIdempotencyStore(ctx context.Context) (idempotency.Store, func(), error) {
	cfg, err := config.LoadRedis()
	if err != nil {
		return nil, nil, err
	}

	if cfg.URL == "" {
		log.Println("REDIS_URL not set, using in-memory idempotency store")
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DialTimeout != nil {
		opts.DialTimeout = *cfg.DialTimeout
	}
	if cfg.ReadTimeout != nil {
		opts.ReadTimeout = *cfg.ReadTimeout
	}
	if cfg.WriteTimeout != nil {
		opts.WriteTimeout = *cfg.WriteTimeout
	}
	if cfg.PoolSize != nil {
		opts.PoolSize = *cfg.PoolSize
	}
	if cfg.MinIdleConns != nil {
		opts.MinIdleConns = *cfg.MinIdleConns
	}
	if cfg.MaxRetries != nil {
		opts.MaxRetries = *cfg.MaxRetries
	}
	if cfg.TLSConfig != nil {
		opts.TLSConfig = cfg.TLSConfig
	}

	client := redis.NewClient(opts)
	if cfg.EnableOTel {
		if err := redisotel.InstrumentTracing(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		if err := redisotel.InstrumentMetrics(client); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.HealthcheckTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := client.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL), cleanup, nil
}

// buildOrderStore returns the Postgres store when DATABASE_URL is set,
// otherwise the in-memory fallback.
func buildOrderStore(ctx context.Context) (saga.OrderStore, func(), error) {
	cfg := config.LoadDatabase()
	if cfg.URL == "" {
		log.Println("DATABASE_URL not set, using in-memory order store")
		return saga.NewMemoryOrderStore(), func() {}, nil
	}

	db, err := openOrdersDB("pgx", cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	store, err := ordersdb.NewOrderStoreWithSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Printf("close orders db: %v", err)
		}
	}
	return store, cleanup, nil
}
