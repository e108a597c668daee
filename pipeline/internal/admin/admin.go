// Package admin serves the operator HTTP API: queue depths and the dead-letter queue.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"storefront-pipeline/pipeline/internal/deadletter"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/httpx"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
)

const defaultListLimit = 100

// Check is one readiness probe, e.g. a Redis or Postgres ping.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Handlers struct {
	Service  string
	Env      string
	Version  string
	Problems []config.Problem
	Checks   []Check
	DLQ      *deadletter.Manager
	Logger   logx.Logger
}

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

type replayRequest struct {
	// ID selects one job; All must be set explicitly to replay everything.
	ID  string `json:"id"`
	All bool   `json:"all"`
}

// Register mounts every route on mux.
func (h Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", metricsx.Handler())
	mux.HandleFunc("GET /api/v1/queues", h.queues)
	mux.HandleFunc("GET /api/v1/dead-letters", h.listDeadLetters)
	mux.HandleFunc("POST /api/v1/dead-letters/replay", h.replay)
	mux.HandleFunc("DELETE /api/v1/dead-letters", h.purge)
}

// Public reports the routes served without authentication.
func Public(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

func (h Handlers) status(s string) statusResponse {
	return statusResponse{Status: s, Service: h.Service, Env: h.Env, Version: h.Version}
}

func (h Handlers) healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.status("ok"))
}

func (h Handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if len(h.Problems) > 0 {
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
			"service not ready: invalid configuration", map[string]any{"problems": h.Problems})
		return
	}
	for _, c := range h.Checks {
		if err := c.Run(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: "+c.Name+" unavailable", map[string]any{"problem": c.Name + "_ping_failed"})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, h.status("ready"))
}

func (h Handlers) queues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.DLQ.Stats(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h Handlers) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	entries, err := h.DLQ.List(r.Context(), limit)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (h Handlers) replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body", nil)
		return
	}
	if (req.ID != "") == req.All {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "set exactly one of id or all", nil)
		return
	}
	n, err := h.DLQ.Replay(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
			return
		}
		h.storeError(w, r, err)
		return
	}
	h.audit(r, "dead_letter_replay", req.ID, n)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"replayed": n})
}

func (h Handlers) purge(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" && r.URL.Query().Get("all") != "true" {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "set id or all=true", nil)
		return
	}
	n, err := h.DLQ.Purge(r.Context(), id)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
			return
		}
		h.storeError(w, r, err)
		return
	}
	h.audit(r, "dead_letter_purge", id, n)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"purged": n})
}

func (h Handlers) audit(r *http.Request, event string, id string, n int) {
	h.Logger.Info(r.Context(), event, "operator action",
		slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
		slog.String("subject", httpx.SubjectFromContext(r.Context())),
		slog.String("job_id", id),
		slog.Int("count", n),
	)
}

func (h Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	h.Logger.Error(r.Context(), "store_failed", "queue store request failed",
		slog.String("error_code", "UNAVAILABLE"),
		slog.String("error", err.Error()),
		slog.String("request_id", httpx.RequestIDFromContext(r.Context())),
	)
	httpx.WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE", "queue store unavailable", nil)
}
