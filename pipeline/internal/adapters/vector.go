package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/cachex"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/mqx"
)

const defaultVectorMarkTTL = 7 * 24 * time.Hour

// Vector hands search patterns to the embedding indexer through Kafka. A marker written after a
// successful publish stops replays from publishing again; the indexer also dedupes on eventId.
type Vector struct {
	Publisher mqx.Publisher
	Topic     string
	Marker    Marker
	MarkTTL   time.Duration
	Logger    logx.Logger
}

func (v Vector) Execute(ctx context.Context, job jobs.Job) error {
	var d jobs.VectorData
	if err := job.Bind(&d); err != nil {
		return err
	}
	if d.EventID == "" {
		return fmt.Errorf("vector %s: missing eventId", job.ID)
	}
	key := cachex.AppliedKey("vector:" + d.Kind + ":" + d.EventID)
	if v.Marker != nil {
		done, err := v.Marker.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("vector marker: %w", err)
		}
		if done {
			v.Logger.Debug(ctx, "vector_replay", "search pattern already published",
				slog.String("job_id", job.ID),
				slog.String("event_id", d.EventID),
			)
			return nil
		}
	}
	headers := map[string]string{
		"kind":     d.Kind,
		"event-id": d.EventID,
	}
	if err := mqx.PublishJSON(ctx, v.Publisher, v.Topic, d.EventID, d, headers); err != nil {
		return fmt.Errorf("vector publish: %w", err)
	}
	if v.Marker != nil {
		ttl := v.MarkTTL
		if ttl <= 0 {
			ttl = defaultVectorMarkTTL
		}
		// Failing to mark only risks a duplicate publish, which the indexer tolerates.
		if err := v.Marker.Mark(ctx, key, ttl); err != nil {
			v.Logger.Warn(ctx, "vector_mark_failed", "search pattern marker not written",
				slog.String("error_code", "STORE_UNAVAILABLE"),
				slog.String("error", err.Error()),
				slog.String("event_id", d.EventID),
			)
		}
	}
	return nil
}
