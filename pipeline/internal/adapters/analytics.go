package adapters

import (
	"context"
	"fmt"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/metricsx"
)

const analyticsMeasurement = "storefront_events"

// Analytics stores the event row in Postgres and, when Points is set, a point in InfluxDB for
// dashboards. Both writes are idempotent, so the point is rewritten on every attempt.
type Analytics struct {
	Store  AnalyticsStore
	Points PointWriter
}

func (a Analytics) Execute(ctx context.Context, job jobs.Job) error {
	var d jobs.AnalyticsData
	if err := job.Bind(&d); err != nil {
		return err
	}
	if _, err := a.Store.Insert(ctx, d); err != nil {
		return fmt.Errorf("analytics insert: %w", err)
	}
	if a.Points == nil {
		return nil
	}
	tags := map[string]string{
		"event_type": string(d.EventType),
		// event_id keeps each point distinct; a replay overwrites the same series and timestamp.
		"event_id": d.EventID,
	}
	if d.Tag != "" {
		tags["tag"] = d.Tag
	}
	fields := map[string]any{"count": 1}
	if d.UserID != "" {
		fields["user_id"] = d.UserID
	}
	if d.SessionID != "" {
		fields["session_id"] = d.SessionID
	}
	if err := a.Points.WritePoint(ctx, analyticsMeasurement, tags, fields, jobs.Millis(d.Timestamp)); err != nil {
		metricsx.IncInfluxWriteFailure()
		return fmt.Errorf("analytics point: %w", err)
	}
	return nil
}
