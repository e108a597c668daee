package processor

import (
	"context"
	"errors"
	"fmt"

	"storefront-pipeline/pipeline/internal/jobs"
)

// Adapter performs the downstream write for one job type. It must be idempotent: the same
// payload may be delivered more than once and retries resend it unchanged.
type Adapter interface {
	Execute(ctx context.Context, job jobs.Job) error
}

type AdapterFunc func(ctx context.Context, job jobs.Job) error

func (f AdapterFunc) Execute(ctx context.Context, job jobs.Job) error { return f(ctx, job) }

// Adapters has one slot per job type so a missing handler is a construction error, not a
// silent drop at runtime.
type Adapters struct {
	Graph          Adapter
	Analytics      Adapter
	Vector         Adapter
	Recommendation Adapter
	Profile        Adapter
}

func (a Adapters) validate() error {
	var missing []error
	for _, t := range jobs.AllTypes() {
		if ad, _ := a.For(t); ad == nil {
			missing = append(missing, fmt.Errorf("no adapter for %s", t))
		}
	}
	return errors.Join(missing...)
}

// For reports false for job types this build does not know, e.g. ones written by a newer version.
func (a Adapters) For(t jobs.Type) (Adapter, bool) {
	switch t {
	case jobs.GraphSync:
		return a.Graph, true
	case jobs.AnalyticsSync:
		return a.Analytics, true
	case jobs.VectorSync:
		return a.Vector, true
	case jobs.RecommendationRefresh:
		return a.Recommendation, true
	case jobs.ProfileUpdate:
		return a.Profile, true
	}
	return nil, false
}
