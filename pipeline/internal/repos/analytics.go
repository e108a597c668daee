package repos

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"storefront-pipeline/pipeline/internal/jobs"
)

type AnalyticsRepo struct {
	db DBTX
}

func NewAnalyticsRepo(db DBTX) *AnalyticsRepo {
	return &AnalyticsRepo{db: db}
}

// Insert writes one analytics row keyed by (event_id, tag), so the zero-result copy of a search
// is stored next to the plain one.
func (r *AnalyticsRepo) Insert(ctx context.Context, d jobs.AnalyticsData) (bool, error) {
	if d.EventID == "" {
		return false, ErrMissingKey
	}
	props := []byte("{}")
	if len(d.Properties) > 0 {
		b, err := json.Marshal(d.Properties)
		if err != nil {
			return false, err
		}
		props = b
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO analytics_events (event_id, tag, event_type, session_id, user_id, properties, occurred_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::jsonb, $7)
		ON CONFLICT (event_id, tag) DO NOTHING
	`, d.EventID, d.Tag, string(d.EventType), d.SessionID, d.UserID, string(props), jobs.Millis(d.Timestamp))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type EventCount struct {
	EventType string `json:"eventType"`
	Tag       string `json:"tag,omitempty"`
	Count     int64  `json:"count"`
}

// CountsSince summarises stored analytics rows by type, busiest first. Used by operator tooling.
func (r *AnalyticsRepo) CountsSince(ctx context.Context, since time.Time) ([]EventCount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_type, tag, count(*)
		FROM analytics_events
		WHERE occurred_at >= $1
		GROUP BY event_type, tag
		ORDER BY count(*) DESC, event_type ASC
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.EventType, &c.Tag, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
