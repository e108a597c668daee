package repos

import (
	"context"
	"errors"

	"storefront-pipeline/pipeline/internal/jobs"
)

var ErrMissingKey = errors.New("missing natural key")

type GraphRepo struct {
	db DBTX
}

func NewGraphRepo(db DBTX) *GraphRepo {
	return &GraphRepo{db: db}
}

// RecordInteraction stores one view/cart/purchase edge. It reports whether a row was written.
func (r *GraphRepo) RecordInteraction(ctx context.Context, d jobs.GraphData) (bool, error) {
	if d.EventID == "" || d.ProductID == "" {
		return false, ErrMissingKey
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO graph_interactions (event_id, event_type, product_id, user_id, session_id, quantity, price, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, d.EventID, string(d.EventType), d.ProductID, d.UserID, d.SessionID, d.Quantity, d.Price, jobs.Millis(d.Timestamp))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RecordOrder stores the order and its line items in one statement; an order that already
// exists is left untouched, items included.
func (r *GraphRepo) RecordOrder(ctx context.Context, d jobs.GraphData) (bool, error) {
	if d.OrderID == "" {
		return false, ErrMissingKey
	}
	productIDs := make([]string, 0, len(d.Items))
	quantities := make([]int32, 0, len(d.Items))
	prices := make([]float64, 0, len(d.Items))
	for _, item := range d.Items {
		productIDs = append(productIDs, item.ProductID.String())
		quantities = append(quantities, int32(item.Quantity))
		prices = append(prices, item.Price)
	}
	// The order row alone decides whether anything was written; an order without items still counts.
	var inserted int
	err := r.db.QueryRow(ctx, `
		WITH o AS (
			INSERT INTO graph_orders (order_id, event_id, user_id, session_id, total, currency, occurred_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
			ON CONFLICT (order_id) DO NOTHING
			RETURNING order_id
		), items AS (
			INSERT INTO graph_order_items (order_id, product_id, quantity, price)
			SELECT o.order_id, i.product_id, i.quantity, i.price
			FROM o, unnest($8::text[], $9::int[], $10::float8[]) AS i (product_id, quantity, price)
			ON CONFLICT (order_id, product_id) DO NOTHING
		)
		SELECT count(*) FROM o
	`, d.OrderID, d.EventID, d.UserID, d.SessionID, d.Total, d.Currency, jobs.Millis(d.Timestamp), productIDs, quantities, prices).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted > 0, nil
}

// RecordCoPurchase bumps the bought-together weight once per (order, product, related product).
func (r *GraphRepo) RecordCoPurchase(ctx context.Context, d jobs.GraphData) (bool, error) {
	if d.OrderID == "" || d.ProductID == "" || d.RelatedProductID == "" {
		return false, ErrMissingKey
	}
	tag, err := r.db.Exec(ctx, `
		WITH src AS (
			INSERT INTO graph_copurchase_sources (order_id, product_id, related_product_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
			RETURNING product_id
		)
		INSERT INTO graph_copurchase (product_id, related_product_id, weight, updated_at)
		SELECT $2, $3, 1, $4 FROM src
		ON CONFLICT (product_id, related_product_id)
		DO UPDATE SET weight = graph_copurchase.weight + 1, updated_at = EXCLUDED.updated_at
	`, d.OrderID, d.ProductID, d.RelatedProductID, jobs.Millis(d.Timestamp))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
