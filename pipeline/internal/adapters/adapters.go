// Package adapters performs the downstream write for each job type. Every adapter is safe to run
// more than once for the same payload: idempotency is keyed on the payload's natural key, never
// on the job id, because a re-translated event produces new job ids.
package adapters

import (
	"context"
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/clients/recs"
)

type GraphStore interface {
	RecordInteraction(ctx context.Context, d jobs.GraphData) (bool, error)
	RecordOrder(ctx context.Context, d jobs.GraphData) (bool, error)
	RecordCoPurchase(ctx context.Context, d jobs.GraphData) (bool, error)
}

type AnalyticsStore interface {
	Insert(ctx context.Context, d jobs.AnalyticsData) (bool, error)
}

type PointWriter interface {
	WritePoint(ctx context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error
}

// Marker remembers which side effects have already been applied.
type Marker interface {
	Exists(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

type CacheInvalidator interface {
	Delete(ctx context.Context, keys ...string) error
}

type Refresher interface {
	Refresh(ctx context.Context, req recs.RefreshRequest) error
}

type ProfileStore interface {
	HSetIfNewer(ctx context.Context, key string, updatedAt int64, fields map[string]string) (bool, error)
}
