// Package deadletter is the operator view of jobs:failed: inspect, replay and purge.
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
	"storefront-pipeline/shared/queuex"
	"storefront-pipeline/shared/workflow"
)

var ErrNotFound = errors.New("dead-letter job not found")

// Entry is one item of jobs:failed. Raw is the stored form; Job is nil when Raw cannot be decoded.
type Entry struct {
	Raw string    `json:"-"`
	Job *jobs.Job `json:"job,omitempty"`
	Err string    `json:"decodeError,omitempty"`
}

type Stats struct {
	Queues map[string]int64 `json:"queues"`
	// FailedByType counts dead-lettered jobs per job type; undecodable items count as "malformed".
	FailedByType map[string]int `json:"failedByType"`
}

type Manager struct {
	store queuex.Store
	log   logx.Logger
}

func New(store queuex.Store, log logx.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// List returns up to limit entries, oldest first. A limit <= 0 returns everything.
func (m *Manager) List(ctx context.Context, limit int) ([]Entry, error) {
	items, err := m.store.Scan(ctx, queuex.FailedQueue)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", queuex.FailedQueue, err)
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Entry, 0, len(items))
	for _, raw := range items {
		out = append(out, decode(raw))
	}
	return out, nil
}

// Replay moves the job with id, or every decodable job when id is empty, back to the tail of
// jobs:queue with a fresh attempt budget. It returns how many jobs were replayed.
func (m *Manager) Replay(ctx context.Context, id string) (int, error) {
	entries, err := m.matching(ctx, id)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, e := range entries {
		if e.Job == nil {
			continue
		}
		job := *e.Job
		job.Attempts = 0
		job.ScheduledFor = nil
		job.LastError = ""
		raw, err := jobs.Encode(job)
		if err != nil {
			return replayed, err
		}
		// Remove first so two operators replaying at once cannot both requeue the job.
		removed, err := m.store.Remove(ctx, queuex.FailedQueue, e.Raw)
		if err != nil {
			return replayed, fmt.Errorf("remove %s: %w", job.ID, err)
		}
		if !removed {
			continue
		}
		if err := m.store.Push(ctx, queuex.JobsQueue, raw); err != nil {
			if perr := m.store.Push(ctx, queuex.FailedQueue, e.Raw); perr != nil {
				m.log.Error(ctx, "dead_letter_lost", "job could not be restored to the dead-letter queue",
					slog.String("error_code", "STORE_UNAVAILABLE"),
					slog.String("error", perr.Error()),
					slog.String("raw", e.Raw),
				)
			}
			return replayed, fmt.Errorf("requeue %s: %w", job.ID, err)
		}
		replayed++
		metricsx.IncJobTransition(string(job.Type), workflow.TransitionReplayed)
		m.log.Info(ctx, workflow.TransitionReplayed, "dead-lettered job replayed",
			slog.String("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
		)
	}
	if id != "" && replayed == 0 {
		return 0, ErrNotFound
	}
	return replayed, nil
}

// Purge deletes the job with id, or every entry including malformed ones when id is empty.
func (m *Manager) Purge(ctx context.Context, id string) (int, error) {
	entries, err := m.matching(ctx, id)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, e := range entries {
		removed, err := m.store.Remove(ctx, queuex.FailedQueue, e.Raw)
		if err != nil {
			return purged, err
		}
		if removed {
			purged++
		}
	}
	if id != "" && purged == 0 {
		return 0, ErrNotFound
	}
	if purged > 0 {
		m.log.Warn(ctx, "dead_letter_purged", "dead-lettered jobs purged",
			slog.Int("count", purged),
			slog.String("job_id", id),
		)
	}
	return purged, nil
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	depths, err := queuex.Depths(ctx, m.store)
	if err != nil {
		return Stats{}, err
	}
	entries, err := m.List(ctx, 0)
	if err != nil {
		return Stats{}, err
	}
	byType := map[string]int{}
	for _, e := range entries {
		if e.Job == nil {
			byType["malformed"]++
			continue
		}
		byType[string(e.Job.Type)]++
	}
	return Stats{Queues: depths, FailedByType: byType}, nil
}

// Types returns the job types present in stats, sorted, for stable output.
func (s Stats) Types() []string {
	out := make([]string, 0, len(s.FailedByType))
	for t := range s.FailedByType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) matching(ctx context.Context, id string) ([]Entry, error) {
	entries, err := m.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return entries, nil
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Job != nil && e.Job.ID == id {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func decode(raw string) Entry {
	job, err := jobs.Decode(raw)
	if err != nil {
		return Entry{Raw: raw, Err: err.Error()}
	}
	return Entry{Raw: raw, Job: &job}
}
