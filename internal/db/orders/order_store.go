package ordersdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"caravel/internal/saga"
)

// OrderStore persists orders in Postgres. Amounts are stored as NUMERIC
// so no precision is lost between save and load.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore constructs an OrderStore backed by Postgres.
func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db}
}

// NewOrderStoreWithSchema initializes the schema then returns the store.
func NewOrderStoreWithSchema(ctx context.Context, db *sql.DB) (*OrderStore, error) {
	store := NewOrderStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the orders table if it does not exist.
func (s *OrderStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			amount NUMERIC(12,2) NOT NULL,
			status TEXT NOT NULL,
			saga_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	return err
}

// FindByID loads one order.
func (s *OrderStore) FindByID(ctx context.Context, id string) (saga.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, amount::text, status, saga_id, created_at
		FROM orders
		WHERE id = $1`,
		id,
	)

	var o saga.Order
	var amount, status string
	if err := row.Scan(&o.ID, &o.CustomerID, &amount, &status, &o.SagaID, &o.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.Order{}, saga.ErrOrderNotFound
		}
		return saga.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return saga.Order{}, fmt.Errorf("parse amount for order %s: %w", id, err)
	}
	o.Amount = dec
	o.Status = saga.Status(status)
	return o, nil
}

// Save upserts the order. Only status can change after creation, but an
// at-least-once pipeline may replay the initial insert, so the write is
// a full upsert rather than insert-then-update.
func (s *OrderStore) Save(ctx context.Context, o saga.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, amount, status, saga_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, saga_id = EXCLUDED.saga_id, updated_at = NOW()`,
		o.ID, o.CustomerID, o.Amount.String(), string(o.Status), o.SagaID, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}
