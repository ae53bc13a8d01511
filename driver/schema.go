package driver

import (
	"context"
	"fmt"
)

// schema 建立庫存、訂單、庫存異動、付款事件與商品表；可重複執行
var schema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		id           BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		quantity     INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		unit_price   NUMERIC(14, 2) NOT NULL CHECK (unit_price >= 0),
		is_warehouse BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS locations_single_warehouse
		ON locations (is_warehouse) WHERE is_warehouse`,
	`CREATE TABLE IF NOT EXISTS orders (
		id             BIGSERIAL PRIMARY KEY,
		buy_order      TEXT NOT NULL UNIQUE,
		token          TEXT NOT NULL UNIQUE,
		amount         NUMERIC(14, 2) NOT NULL,
		location_id    BIGINT NOT NULL REFERENCES locations (id),
		quantity       INTEGER NOT NULL CHECK (quantity > 0),
		status         TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
		id             BIGSERIAL PRIMARY KEY,
		location_id    BIGINT NOT NULL REFERENCES locations (id),
		quantity       INTEGER NOT NULL,
		type           TEXT NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id   TEXT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS stock_movements_location ON stock_movements (location_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		processed  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL UNIQUE,
		description   TEXT NOT NULL DEFAULT '',
		price         NUMERIC(14, 2) NOT NULL CHECK (price > 0),
		initial_stock INTEGER NOT NULL DEFAULT 0 CHECK (initial_stock >= 0),
		photo         BYTEA,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema in order.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the pool.
func (db *DB) Close() {
	db.Pool.Close()
}
