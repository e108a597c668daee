package adapters

import (
	"context"
	"fmt"
	"log/slog"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/logx"
)

type Graph struct {
	Store  GraphStore
	Logger logx.Logger
}

func (g Graph) Execute(ctx context.Context, job jobs.Job) error {
	var d jobs.GraphData
	if err := job.Bind(&d); err != nil {
		return err
	}
	var (
		written bool
		err     error
	)
	switch d.Kind {
	case jobs.GraphInteraction:
		written, err = g.Store.RecordInteraction(ctx, d)
	case jobs.GraphOrder:
		written, err = g.Store.RecordOrder(ctx, d)
	case jobs.GraphCoPurchase:
		written, err = g.Store.RecordCoPurchase(ctx, d)
	default:
		return fmt.Errorf("unknown graph kind %q", d.Kind)
	}
	if err != nil {
		return fmt.Errorf("graph %s: %w", d.Kind, err)
	}
	if !written {
		g.Logger.Debug(ctx, "graph_replay", "graph write already applied",
			slog.String("job_id", job.ID),
			slog.String("kind", d.Kind),
			slog.String("event_id", d.EventID),
		)
	}
	return nil
}
