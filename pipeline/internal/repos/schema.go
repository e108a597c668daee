package repos

import (
	"context"
	"fmt"
)

// Every table carries a natural key so that replaying a job is a no-op.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS analytics_events (
		event_id    TEXT        NOT NULL,
		tag         TEXT        NOT NULL DEFAULT '',
		event_type  TEXT        NOT NULL,
		session_id  TEXT        NOT NULL DEFAULT '',
		user_id     TEXT,
		properties  JSONB       NOT NULL DEFAULT '{}'::jsonb,
		occurred_at TIMESTAMPTZ NOT NULL,
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (event_id, tag)
	)`,
	`CREATE INDEX IF NOT EXISTS analytics_events_type_time ON analytics_events (event_type, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS graph_interactions (
		event_id    TEXT        PRIMARY KEY,
		event_type  TEXT        NOT NULL,
		product_id  TEXT        NOT NULL,
		user_id     TEXT,
		session_id  TEXT        NOT NULL DEFAULT '',
		quantity    INTEGER     NOT NULL DEFAULT 0,
		price       DOUBLE PRECISION NOT NULL DEFAULT 0,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS graph_interactions_user ON graph_interactions (user_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS graph_orders (
		order_id    TEXT        PRIMARY KEY,
		event_id    TEXT        NOT NULL,
		user_id     TEXT,
		session_id  TEXT        NOT NULL DEFAULT '',
		total       DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency    TEXT        NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS graph_order_items (
		order_id    TEXT    NOT NULL,
		product_id  TEXT    NOT NULL,
		quantity    INTEGER NOT NULL DEFAULT 0,
		price       DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS graph_copurchase_sources (
		order_id           TEXT NOT NULL,
		product_id         TEXT NOT NULL,
		related_product_id TEXT NOT NULL,
		PRIMARY KEY (order_id, product_id, related_product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS graph_copurchase (
		product_id         TEXT        NOT NULL,
		related_product_id TEXT        NOT NULL,
		weight             INTEGER     NOT NULL DEFAULT 0,
		updated_at         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (product_id, related_product_id)
	)`,
}

// EnsureSchema creates the pipeline tables if they are missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
