package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is applied statement by statement; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id                   BIGINT PRIMARY KEY,
		sku                  TEXT NOT NULL,
		name                 TEXT NOT NULL,
		category             TEXT NOT NULL DEFAULT '',
		unit                 TEXT NOT NULL,
		default_supplier_ref TEXT,
		reorder_threshold    NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (reorder_threshold >= 0),
		min_stock            NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (min_stock >= 0),
		current_quantity     NUMERIC(18,4) NOT NULL DEFAULT 0 CHECK (current_quantity >= 0),
		active               BOOLEAN NOT NULL DEFAULT TRUE,
		created_at           TIMESTAMPTZ NOT NULL,
		updated_at           TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS inventory_items_sku_key ON inventory_items (upper(sku))`,
	`CREATE INDEX IF NOT EXISTS inventory_items_low_stock_idx ON inventory_items (sku)
		WHERE active AND current_quantity < reorder_threshold`,

	`CREATE TABLE IF NOT EXISTS inventory_batches (
		id                 BIGINT PRIMARY KEY,
		item_id            BIGINT NOT NULL REFERENCES inventory_items (id),
		batch_number       TEXT,
		quantity_received  NUMERIC(18,4) NOT NULL CHECK (quantity_received > 0),
		remaining_quantity NUMERIC(18,4) NOT NULL CHECK (remaining_quantity >= 0),
		unit_cost          NUMERIC(18,4) NOT NULL CHECK (unit_cost >= 0),
		purchase_date      TIMESTAMPTZ NOT NULL,
		expiry_date        TIMESTAMPTZ,
		supplier_ref       TEXT,
		po_ref             TEXT,
		active             BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		CHECK (remaining_quantity <= quantity_received)
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_batches_fifo_idx ON inventory_batches (item_id, purchase_date, id)
		WHERE active AND remaining_quantity > 0`,
	`CREATE INDEX IF NOT EXISTS inventory_batches_expiry_idx ON inventory_batches (expiry_date)
		WHERE active AND remaining_quantity > 0 AND expiry_date IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS inventory_transactions (
		id            BIGINT PRIMARY KEY,
		item_id       BIGINT NOT NULL REFERENCES inventory_items (id),
		batch_id      BIGINT REFERENCES inventory_batches (id),
		type          TEXT NOT NULL CHECK (type IN ('add', 'use', 'adjustment')),
		quantity      NUMERIC(18,4) NOT NULL,
		balance_after NUMERIC(18,4) NOT NULL CHECK (balance_after >= 0),
		unit_cost     NUMERIC(24,8) NOT NULL DEFAULT 0,
		total_cost    NUMERIC(24,8) NOT NULL DEFAULT 0,
		module        TEXT,
		reference     TEXT,
		session_id    TEXT,
		note          TEXT,
		allocations   JSONB NOT NULL DEFAULT '[]',
		actor         TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE inventory_transactions
		ALTER COLUMN unit_cost TYPE NUMERIC(24,8),
		ALTER COLUMN total_cost TYPE NUMERIC(24,8)`,
	`CREATE INDEX IF NOT EXISTS inventory_transactions_item_idx ON inventory_transactions (item_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS inventory_transactions_created_idx ON inventory_transactions (created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS inventory_reservations (
		id             BIGINT PRIMARY KEY,
		item_id        BIGINT NOT NULL REFERENCES inventory_items (id),
		quantity       NUMERIC(18,4) NOT NULL CHECK (quantity > 0),
		module         TEXT NOT NULL,
		reference      TEXT NOT NULL,
		status         TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'expired')),
		expires_at     TIMESTAMPTZ NOT NULL,
		transaction_id BIGINT REFERENCES inventory_transactions (id),
		actor          TEXT NOT NULL,
		resolved_at    TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_reservations_pending_idx ON inventory_reservations (item_id, expires_at)
		WHERE status = 'pending'`,

	`CREATE TABLE IF NOT EXISTS inventory_adjustments (
		id               BIGINT PRIMARY KEY,
		item_id          BIGINT NOT NULL REFERENCES inventory_items (id),
		kind             TEXT NOT NULL CHECK (kind IN ('increase', 'decrease', 'recount')),
		quantity         NUMERIC(18,4) NOT NULL,
		previous_balance NUMERIC(18,4) NOT NULL,
		new_balance      NUMERIC(18,4) NOT NULL CHECK (new_balance >= 0),
		reason           TEXT NOT NULL CHECK (reason <> ''),
		transaction_id   BIGINT NOT NULL REFERENCES inventory_transactions (id),
		batch_id         BIGINT REFERENCES inventory_batches (id),
		actor            TEXT NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_adjustments_item_idx ON inventory_adjustments (item_id, id)`,
}

// Migrate creates the ledger tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
