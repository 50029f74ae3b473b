package postgres

import (
	"context"
	"fmt"
)

// Schema holds the DDL for every table the stores touch. EnsureSchema applies
// it idempotently so one-shot CLI runs work against an empty database.
const Schema = `
CREATE TABLE IF NOT EXISTS product_records (
	article_number     TEXT PRIMARY KEY,
	revision           INTEGER NOT NULL DEFAULT 1,
	product_name       TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	price              NUMERIC,
	price_type         TEXT NOT NULL DEFAULT 'unknown',
	tiered_prices      JSONB,
	tiered_prices_text TEXT NOT NULL DEFAULT '',
	currency           TEXT NOT NULL DEFAULT 'EUR',
	category           TEXT NOT NULL DEFAULT 'SHOP_ONLY',
	verified           BOOLEAN NOT NULL DEFAULT FALSE,
	confidence         JSONB,
	source             JSONB,
	requires_review    BOOLEAN NOT NULL DEFAULT FALSE,
	source_url         TEXT NOT NULL DEFAULT '',
	extracted_at       TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_product_records_category ON product_records(category);
CREATE INDEX IF NOT EXISTS idx_product_records_review ON product_records(requires_review);

CREATE TABLE IF NOT EXISTS batch_runs (
	id            UUID PRIMARY KEY,
	batch_id      UUID NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_batch_runs_status ON batch_runs(status);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);

CREATE TABLE IF NOT EXISTS run_article_stats (
	batch_id          UUID NOT NULL,
	outcome           TEXT NOT NULL,
	last_update       TIMESTAMPTZ NOT NULL,
	articles          BIGINT NOT NULL DEFAULT 0,
	duration_ms_total BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (batch_id, outcome)
);
`

// EnsureSchema creates the extractor tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool pgxPool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}
