package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS instruments (
	instrument_id      TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	min_order_quantity NUMERIC NOT NULL DEFAULT 0,
	min_dust_quantity  NUMERIC NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	id            BIGSERIAL PRIMARY KEY,
	user_id       BIGINT NOT NULL,
	instrument_id TEXT NOT NULL REFERENCES instruments (instrument_id),
	side          TEXT NOT NULL,
	price         NUMERIC NOT NULL,
	quantity      NUMERIC NOT NULL,
	filled        NUMERIC NOT NULL DEFAULT 0,
	complete      BOOLEAN NOT NULL DEFAULT FALSE,
	halted        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

ALTER TABLE orders ADD COLUMN IF NOT EXISTS halted BOOLEAN NOT NULL DEFAULT FALSE;
DROP INDEX IF EXISTS orders_open_idx;
CREATE INDEX IF NOT EXISTS orders_live_idx ON orders (instrument_id, id) WHERE NOT complete AND NOT halted;
CREATE INDEX IF NOT EXISTS orders_user_idx ON orders (user_id, id);

CREATE TABLE IF NOT EXISTS trades (
	id             BIGSERIAL PRIMARY KEY,
	instrument_id  TEXT NOT NULL,
	maker_order_id BIGINT NOT NULL REFERENCES orders (id),
	taker_order_id BIGINT NOT NULL REFERENCES orders (id),
	taker_side     TEXT NOT NULL,
	price          NUMERIC NOT NULL,
	quantity       NUMERIC NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_maker_idx ON trades (maker_order_id, created_at);
CREATE INDEX IF NOT EXISTS trades_taker_idx ON trades (taker_order_id, created_at);
`

// EnsureSchema creates the tables used by the Postgres stores.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
