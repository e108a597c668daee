package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-pipeline/shared/authx"
	"storefront-pipeline/shared/httpx"
	"storefront-pipeline/shared/logx"
)

type staticVerifier map[string]authx.AuthContext

func (v staticVerifier) Verify(_ context.Context, token string) (authx.AuthContext, error) {
	auth, ok := v[token]
	if !ok {
		return authx.AuthContext{}, authx.ErrInvalidToken
	}
	return auth, nil
}

func TestAuthMiddleware(t *testing.T) {
	verifier := staticVerifier{
		"admin":  {Subject: "ops-1", Roles: []string{"pipeline:admin"}},
		"viewer": {Subject: "dev-1", Roles: []string{"viewer"}},
	}
	var subject string
	h := AuthMiddleware{
		Verifier: verifier,
		Role:     "pipeline:admin",
		Logger:   logx.Nop(),
		Skip:     func(r *http.Request) bool { return r.URL.Path == "/healthz" },
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = httpx.SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/healthz", "", http.StatusNoContent},
		{"/api/v1/queues", "", http.StatusUnauthorized},
		{"/api/v1/queues", "Bearer nope", http.StatusUnauthorized},
		{"/api/v1/queues", "Bearer viewer", http.StatusForbidden},
		{"/api/v1/queues", "Bearer admin", http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != c.want {
			t.Fatalf("%s %q: expected %d, got %d", c.path, c.header, c.want, rec.Code)
		}
	}
	if subject != "ops-1" {
		t.Fatalf("expected subject in context, got %q", subject)
	}
}

func TestAuthMiddlewareWithoutVerifier(t *testing.T) {
	h := AuthMiddleware{}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queues", nil))
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rec.Code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	l := NewRateLimiter(1, 2, time.Minute)
	now := time.Unix(0, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("ops") || !l.Allow("ops") {
		t.Fatalf("burst of 2 should be allowed")
	}
	if l.Allow("ops") {
		t.Fatalf("third request should be limited")
	}
	if !l.Allow("other") {
		t.Fatalf("keys must not share a bucket")
	}
	now = now.Add(time.Second)
	if !l.Allow("ops") {
		t.Fatalf("bucket should refill after a second")
	}
}

func TestRateLimitOnlyCountsSelectedRequests(t *testing.T) {
	l := NewRateLimiter(0.001, 1, time.Minute)
	h := RateLimitMiddleware{
		Limiter: l,
		Limit:   func(r *http.Request) bool { return r.Method != http.MethodGet },
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET must not be limited, got %d", rec.Code)
		}
	}
	codes := []int{}
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second POST limited, got %v", codes)
	}
}

