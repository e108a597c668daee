package recs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/metricsx"
)

var ErrCircuitOpen = errors.New("recs circuit open")

// Client calls the recommendation service. Scoring lives there; this side only asks for a refresh.
type Client struct {
	baseURL  string
	timeout  time.Duration
	retryMax int
	http     *http.Client
	breaker  *circuitBreaker
}

type RefreshRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId,omitempty"`
	Reason    string `json:"reason"`
	// IdempotencyKey is sent as a header so the service can ignore replays.
	IdempotencyKey string `json:"-"`
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RecsServiceURL == "" {
		return nil, errors.New("RECS_SERVICE_URL is required")
	}
	timeout := time.Duration(cfg.RecsTimeoutMS) * time.Millisecond
	return NewWithHTTPClient(cfg.RecsServiceURL, cfg.RecsRetryMax, &http.Client{Timeout: timeout}), nil
}

func NewWithHTTPClient(baseURL string, retryMax int, hc *http.Client) *Client {
	if retryMax < 0 {
		retryMax = 0
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  hc.Timeout,
		retryMax: retryMax,
		http:     hc,
		breaker:  newCircuitBreaker(5, 30*time.Second),
	}
}

// Refresh retries 5xx and transport errors up to retryMax times. 4xx answers are final.
func (c *Client) Refresh(ctx context.Context, req RefreshRequest) error {
	if c == nil || c.http == nil {
		return errors.New("recs client not initialized")
	}
	if c.breaker.Open() {
		metricsx.IncRecsRefreshFailure()
		return ErrCircuitOpen
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/recommendations/refresh", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if req.IdempotencyKey != "" {
			httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = err
			c.breaker.Fail()
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("recs service error: status %d", resp.StatusCode)
			c.breaker.Fail()
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			metricsx.IncRecsRefreshFailure()
			return fmt.Errorf("recs refresh rejected: status %d", resp.StatusCode)
		}
		c.breaker.Success()
		metricsx.IncRecsRefreshSuccess()
		metricsx.ObserveRecsRefreshLatency(time.Since(start))
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("recs request failed")
	}
	metricsx.IncRecsRefreshFailure()
	return lastErr
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
