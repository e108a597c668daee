package adapters

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/cachex"
	"storefront-pipeline/shared/clients/recs"
	"storefront-pipeline/shared/events"
)

func mustJob(t *testing.T, typ jobs.Type, data any) jobs.Job {
	t.Helper()
	job, err := jobs.NewJob(jobs.Spec{Type: typ, Data: data}, 3, time.UnixMilli(1_000))
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

// memGraph keys rows the same way the Postgres tables do.
type memGraph struct {
	interactions map[string]bool
	orders       map[string]bool
	sources      map[string]bool
	weights      map[string]int
}

func newMemGraph() *memGraph {
	return &memGraph{interactions: map[string]bool{}, orders: map[string]bool{}, sources: map[string]bool{}, weights: map[string]int{}}
}

func (g *memGraph) RecordInteraction(_ context.Context, d jobs.GraphData) (bool, error) {
	if g.interactions[d.EventID] {
		return false, nil
	}
	g.interactions[d.EventID] = true
	return true, nil
}

func (g *memGraph) RecordOrder(_ context.Context, d jobs.GraphData) (bool, error) {
	if g.orders[d.OrderID] {
		return false, nil
	}
	g.orders[d.OrderID] = true
	return true, nil
}

func (g *memGraph) RecordCoPurchase(_ context.Context, d jobs.GraphData) (bool, error) {
	src := d.OrderID + "|" + d.ProductID + "|" + d.RelatedProductID
	if g.sources[src] {
		return false, nil
	}
	g.sources[src] = true
	g.weights[d.ProductID+"|"+d.RelatedProductID]++
	return true, nil
}

func TestGraphReplayIsNoOp(t *testing.T) {
	store := newMemGraph()
	g := Graph{Store: store}
	ctx := context.Background()

	job := mustJob(t, jobs.GraphSync, jobs.GraphData{Kind: jobs.GraphCoPurchase, OrderID: "o1", ProductID: "a", RelatedProductID: "b"})
	for i := 0; i < 2; i++ {
		if err := g.Execute(ctx, job); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	// The same payload under a new job id, as after re-translating an event.
	again := mustJob(t, jobs.GraphSync, jobs.GraphData{Kind: jobs.GraphCoPurchase, OrderID: "o1", ProductID: "a", RelatedProductID: "b"})
	if err := g.Execute(ctx, again); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if w := store.weights["a|b"]; w != 1 {
		t.Fatalf("expected weight 1 after replays, got %d", w)
	}
}

func TestGraphDispatchesByKind(t *testing.T) {
	store := newMemGraph()
	g := Graph{Store: store}
	ctx := context.Background()
	if err := g.Execute(ctx, mustJob(t, jobs.GraphSync, jobs.GraphData{Kind: jobs.GraphInteraction, EventID: "e1", ProductID: "p"})); err != nil {
		t.Fatalf("interaction: %v", err)
	}
	if err := g.Execute(ctx, mustJob(t, jobs.GraphSync, jobs.GraphData{Kind: jobs.GraphOrder, OrderID: "o1"})); err != nil {
		t.Fatalf("order: %v", err)
	}
	if !store.interactions["e1"] || !store.orders["o1"] {
		t.Fatalf("expected interaction and order recorded")
	}
	if err := g.Execute(ctx, mustJob(t, jobs.GraphSync, jobs.GraphData{Kind: "wishlist"})); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

type memAnalytics struct {
	rows map[string]bool
}

func (m *memAnalytics) Insert(_ context.Context, d jobs.AnalyticsData) (bool, error) {
	k := d.EventID + "|" + d.Tag
	if m.rows[k] {
		return false, nil
	}
	m.rows[k] = true
	return true, nil
}

type memPoints struct {
	points map[string]map[string]any
	err    error
}

func (m *memPoints) WritePoint(_ context.Context, measurement string, tags map[string]string, fields map[string]any, ts time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.points[measurement+"|"+tags["event_type"]+"|"+tags["event_id"]+"|"+tags["tag"]+"|"+ts.String()] = fields
	return nil
}

func TestAnalyticsWritesRowAndPoint(t *testing.T) {
	rows := &memAnalytics{rows: map[string]bool{}}
	points := &memPoints{points: map[string]map[string]any{}}
	a := Analytics{Store: rows, Points: points}
	job := mustJob(t, jobs.AnalyticsSync, jobs.AnalyticsData{EventID: "e1", EventType: events.SearchPerformed, Tag: jobs.TagZeroResults, Timestamp: 5_000})

	for i := 0; i < 2; i++ {
		if err := a.Execute(context.Background(), job); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if len(rows.rows) != 1 || len(points.points) != 1 {
		t.Fatalf("expected one row and one point after replay, got %d and %d", len(rows.rows), len(points.points))
	}
}

func TestAnalyticsPointFailureFailsJob(t *testing.T) {
	a := Analytics{Store: &memAnalytics{rows: map[string]bool{}}, Points: &memPoints{err: errors.New("influx down")}}
	if err := a.Execute(context.Background(), mustJob(t, jobs.AnalyticsSync, jobs.AnalyticsData{EventID: "e1"})); err == nil {
		t.Fatalf("expected point failure to surface for retry")
	}
}

type memMarker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memMarker) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memMarker) Mark(_ context.Context, key string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return nil
}

type memPublisher struct {
	sent []string
	err  error
}

func (p *memPublisher) Publish(_ context.Context, topic string, key []byte, _ []byte, _ map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, topic+"/"+string(key))
	return nil
}

func TestVectorPublishesOnce(t *testing.T) {
	pub := &memPublisher{}
	v := Vector{Publisher: pub, Topic: "search.patterns", Marker: &memMarker{keys: map[string]bool{}}}
	job := mustJob(t, jobs.VectorSync, jobs.VectorData{Kind: jobs.VectorSearchPattern, EventID: "e1", Query: "lamp"})
	for i := 0; i < 2; i++ {
		if err := v.Execute(context.Background(), job); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if len(pub.sent) != 1 || pub.sent[0] != "search.patterns/e1" {
		t.Fatalf("expected a single publish keyed by event id, got %v", pub.sent)
	}
}

func TestVectorPublishFailureLeavesNoMarker(t *testing.T) {
	marker := &memMarker{keys: map[string]bool{}}
	v := Vector{Publisher: &memPublisher{err: errors.New("broker down")}, Topic: "t", Marker: marker}
	if err := v.Execute(context.Background(), mustJob(t, jobs.VectorSync, jobs.VectorData{Kind: jobs.VectorSearchPattern, EventID: "e1"})); err == nil {
		t.Fatalf("expected publish error")
	}
	if len(marker.keys) != 0 {
		t.Fatalf("marker must only be written after a successful publish")
	}
}

type memCache struct {
	deleted []string
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	return nil
}

type memRefresher struct {
	keys []string
}

func (r *memRefresher) Refresh(_ context.Context, req recs.RefreshRequest) error {
	r.keys = append(r.keys, req.IdempotencyKey)
	return nil
}

func TestRecommendationInvalidatesAndRefreshes(t *testing.T) {
	cache := &memCache{}
	refresher := &memRefresher{}
	r := Recommendation{Cache: cache, Refresher: refresher}
	job := mustJob(t, jobs.RecommendationRefresh, jobs.RecommendationData{UserID: "u1", ProductID: "123", EventType: events.ProductViewed, Timestamp: 42})

	for i := 0; i < 2; i++ {
		if err := r.Execute(context.Background(), job); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}
	if len(cache.deleted) != 2 || cache.deleted[0] != cachex.RecommendationKey("u1") {
		t.Fatalf("unexpected invalidations: %v", cache.deleted)
	}
	if len(refresher.keys) != 2 || refresher.keys[0] != refresher.keys[1] || refresher.keys[0] != "u1:123:42" {
		t.Fatalf("replays must reuse the idempotency key, got %v", refresher.keys)
	}
	if err := r.Execute(context.Background(), mustJob(t, jobs.RecommendationRefresh, jobs.RecommendationData{})); err == nil {
		t.Fatalf("expected error without user")
	}
}

// memProfiles mirrors the Lua script: write only when strictly newer.
type memProfiles struct {
	hashes map[string]map[string]string
}

func (m *memProfiles) HSetIfNewer(_ context.Context, key string, updatedAt int64, fields map[string]string) (bool, error) {
	h := m.hashes[key]
	if h != nil {
		if cur, _ := strconv.ParseInt(h["updatedAt"], 10, 64); cur >= updatedAt {
			return false, nil
		}
	}
	h = map[string]string{"updatedAt": strconv.FormatInt(updatedAt, 10)}
	for k, v := range fields {
		h[k] = v
	}
	m.hashes[key] = h
	return true, nil
}

func TestProfileIgnoresStaleAndRepeatedUpdates(t *testing.T) {
	store := &memProfiles{hashes: map[string]map[string]string{}}
	p := Profile{Store: store}
	ctx := context.Background()

	newer := mustJob(t, jobs.ProfileUpdate, jobs.ProfileData{UserID: "u1", EventID: "e2", EventType: events.PageViewed, Path: "/cart", Timestamp: 200})
	older := mustJob(t, jobs.ProfileUpdate, jobs.ProfileData{UserID: "u1", EventID: "e1", EventType: events.UserLogin, Timestamp: 100})

	for _, j := range []jobs.Job{newer, older, newer} {
		if err := p.Execute(ctx, j); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	h := store.hashes[cachex.ProfileKey("u1")]
	if h["lastEventId"] != "e2" || h["lastPath"] != "/cart" {
		t.Fatalf("expected newest event to win, got %v", h)
	}
}
