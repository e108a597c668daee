package adapters

import (
	"context"
	"fmt"
	"strconv"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/cachex"
	"storefront-pipeline/shared/clients/recs"
)

// Recommendation drops the cached recommendations for the user and, when a Refresher is set,
// asks the recommendation service to recompute them. Deleting a missing key is a no-op and the
// service receives a stable idempotency key, so replays are harmless.
type Recommendation struct {
	Cache     CacheInvalidator
	Refresher Refresher
}

func (r Recommendation) Execute(ctx context.Context, job jobs.Job) error {
	var d jobs.RecommendationData
	if err := job.Bind(&d); err != nil {
		return err
	}
	if d.UserID == "" {
		return fmt.Errorf("recommendation %s: missing userId", job.ID)
	}
	if err := r.Cache.Delete(ctx, cachex.RecommendationKey(d.UserID)); err != nil {
		return fmt.Errorf("recommendation cache: %w", err)
	}
	if r.Refresher == nil {
		return nil
	}
	err := r.Refresher.Refresh(ctx, recs.RefreshRequest{
		UserID:         d.UserID,
		ProductID:      d.ProductID,
		Reason:         string(d.EventType),
		IdempotencyKey: d.UserID + ":" + d.ProductID + ":" + strconv.FormatInt(d.Timestamp, 10),
	})
	if err != nil {
		return fmt.Errorf("recommendation refresh: %w", err)
	}
	return nil
}
