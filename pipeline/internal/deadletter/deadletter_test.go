package deadletter

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/queuex"
)

func seed(t *testing.T, store queuex.Store, typ jobs.Type) jobs.Job {
	t.Helper()
	job, err := jobs.NewJob(jobs.Spec{Type: typ, Data: map[string]string{"k": "v"}}, 3, time.UnixMilli(1_000))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.Attempts = 3
	job.LastError = "downstream unavailable"
	job.ScheduleAt(time.UnixMilli(90_000))
	raw, _ := jobs.Encode(job)
	if err := store.Push(context.Background(), queuex.FailedQueue, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
	return job
}

func TestListAndStats(t *testing.T) {
	store := queuex.NewMemoryStore()
	m := New(store, logx.Nop())
	ctx := context.Background()
	seed(t, store, jobs.GraphSync)
	seed(t, store, jobs.GraphSync)
	seed(t, store, jobs.VectorSync)
	_ = store.Push(ctx, queuex.FailedQueue, "garbage")

	entries, err := m.List(ctx, 2)
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d err=%v", len(entries), err)
	}
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Queues[queuex.FailedQueue] != 4 {
		t.Fatalf("expected 4 failed, got %d", stats.Queues[queuex.FailedQueue])
	}
	if stats.FailedByType["graph.sync"] != 2 || stats.FailedByType["vector.sync"] != 1 || stats.FailedByType["malformed"] != 1 {
		t.Fatalf("unexpected per-type counts: %v", stats.FailedByType)
	}
	if types := stats.Types(); len(types) != 3 || types[0] != "graph.sync" {
		t.Fatalf("unexpected sorted types: %v", types)
	}
}

func TestReplayOneResetsAttempts(t *testing.T) {
	store := queuex.NewMemoryStore()
	m := New(store, logx.Nop())
	ctx := context.Background()
	target := seed(t, store, jobs.AnalyticsSync)
	seed(t, store, jobs.ProfileUpdate)

	n, err := m.Replay(ctx, target.ID)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 replayed, got %d err=%v", n, err)
	}
	items, _ := store.Scan(ctx, queuex.JobsQueue)
	if len(items) != 1 {
		t.Fatalf("expected 1 requeued job, got %d", len(items))
	}
	job, err := jobs.Decode(items[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != target.ID || job.Attempts != 0 || job.ScheduledFor != nil || job.LastError != "" {
		t.Fatalf("replayed job not reset: %+v", job)
	}
	if left, _ := store.Len(ctx, queuex.FailedQueue); left != 1 {
		t.Fatalf("expected 1 job left dead-lettered, got %d", left)
	}
	if _, err := m.Replay(ctx, target.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second replay, got %v", err)
	}
}

func TestReplayAllSkipsMalformed(t *testing.T) {
	store := queuex.NewMemoryStore()
	m := New(store, logx.Nop())
	ctx := context.Background()
	seed(t, store, jobs.GraphSync)
	seed(t, store, jobs.GraphSync)
	_ = store.Push(ctx, queuex.FailedQueue, "garbage")

	n, err := m.Replay(ctx, "")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 replayed, got %d err=%v", n, err)
	}
	if left, _ := store.Len(ctx, queuex.FailedQueue); left != 1 {
		t.Fatalf("malformed entry should stay for inspection, got %d left", left)
	}
}

func TestPurge(t *testing.T) {
	store := queuex.NewMemoryStore()
	m := New(store, logx.Nop())
	ctx := context.Background()
	target := seed(t, store, jobs.GraphSync)
	seed(t, store, jobs.GraphSync)
	_ = store.Push(ctx, queuex.FailedQueue, "garbage")

	if n, err := m.Purge(ctx, target.ID); err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if _, err := m.Purge(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n, err := m.Purge(ctx, ""); err != nil || n != 2 {
		t.Fatalf("expected remaining 2 purged, got %d err=%v", n, err)
	}
	if left, _ := store.Len(ctx, queuex.FailedQueue); left != 0 {
		t.Fatalf("expected empty dead-letter queue, got %d", left)
	}
}
