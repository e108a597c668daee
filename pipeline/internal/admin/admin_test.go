package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"storefront-pipeline/pipeline/internal/deadletter"
	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/queuex"
)

func newServer(t *testing.T, store queuex.Store, checks ...Check) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	Handlers{
		Service: "pipeline-admin",
		Checks:  checks,
		DLQ:     deadletter.New(store, logx.Nop()),
		Logger:  logx.Nop(),
	}.Register(mux)
	return mux
}

func deadLetter(t *testing.T, store queuex.Store) jobs.Job {
	t.Helper()
	job, _ := jobs.NewJob(jobs.Spec{Type: jobs.GraphSync, Data: map[string]string{}}, 3, time.UnixMilli(1))
	job.Attempts = 3
	raw, _ := jobs.Encode(job)
	if err := store.Push(context.Background(), queuex.FailedQueue, raw); err != nil {
		t.Fatalf("push: %v", err)
	}
	return job
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestReadyz(t *testing.T) {
	store := queuex.NewMemoryStore()
	if rec := do(newServer(t, store), http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}
	down := Check{Name: "redis", Run: func(context.Context) error { return errors.New("down") }}
	if rec := do(newServer(t, store, down), http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	mux := http.NewServeMux()
	Handlers{Problems: []config.Problem{{Field: "ENV", Message: "ENV is required"}}, DLQ: deadletter.New(store, logx.Nop())}.Register(mux)
	if rec := do(mux, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for config problems, got %d", rec.Code)
	}
}

func TestQueuesAndList(t *testing.T) {
	store := queuex.NewMemoryStore()
	deadLetter(t, store)
	h := newServer(t, store)

	rec := do(h, http.MethodGet, "/api/v1/queues", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("queues: %d", rec.Code)
	}
	var stats deadletter.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Queues[queuex.FailedQueue] != 1 || stats.FailedByType["graph.sync"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	rec = do(h, http.MethodGet, "/api/v1/dead-letters?limit=10", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Fatalf("list: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/api/v1/dead-letters?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestReplayAndPurge(t *testing.T) {
	store := queuex.NewMemoryStore()
	job := deadLetter(t, store)
	deadLetter(t, store)
	h := newServer(t, store)

	for _, body := range []string{`{}`, `{"id":"x","all":true}`, `not json`} {
		if rec := do(h, http.MethodPost, "/api/v1/dead-letters/replay", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
	if rec := do(h, http.MethodPost, "/api/v1/dead-letters/replay", `{"id":"missing"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := do(h, http.MethodPost, "/api/v1/dead-letters/replay", `{"id":"`+job.ID+`"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"replayed":1`) {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body.String())
	}
	if n, _ := store.Len(context.Background(), queuex.JobsQueue); n != 1 {
		t.Fatalf("expected job requeued, got %d", n)
	}

	if rec := do(h, http.MethodDelete, "/api/v1/dead-letters", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("purge without selector must be rejected, got %d", rec.Code)
	}
	rec = do(h, http.MethodDelete, "/api/v1/dead-letters?all=true", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"purged":1`) {
		t.Fatalf("purge: %d %s", rec.Code, rec.Body.String())
	}
}
