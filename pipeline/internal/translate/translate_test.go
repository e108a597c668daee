package translate

import (
	"testing"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/events"
)

func intPtr(v int) *int { return &v }

func types(specs []jobs.Spec) []jobs.Type {
	out := make([]jobs.Type, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Type)
	}
	return out
}

func assertTypes(t *testing.T, specs []jobs.Spec, want ...jobs.Type) {
	t.Helper()
	got := types(specs)
	if len(got) != len(want) {
		t.Fatalf("expected %d jobs %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("job %d: expected %s, got %s (all %v)", i, want[i], got[i], got)
		}
	}
}

func TestProductViewedWithUser(t *testing.T) {
	e := events.New(events.ProductViewed, "s1")
	e.ProductID = "123"
	e.UserID = "u1"
	specs := Translate(e)
	assertTypes(t, specs, jobs.GraphSync, jobs.AnalyticsSync, jobs.RecommendationRefresh)
	if specs[2].Delay != RecommendationDelay {
		t.Fatalf("expected recommendation delay %s, got %s", RecommendationDelay, specs[2].Delay)
	}
	if specs[0].Delay != 0 || specs[1].Delay != 0 {
		t.Fatalf("graph and analytics jobs must not be delayed")
	}
	g := specs[0].Data.(jobs.GraphData)
	if g.Kind != jobs.GraphInteraction || g.ProductID != "123" {
		t.Fatalf("unexpected graph payload: %+v", g)
	}
}

func TestNumericProductIDsFanOut(t *testing.T) {
	e, err := events.Decode(`{"id":"e1","type":"PRODUCT_VIEWED","timestamp":1700000000000,"sessionId":"s1","userId":"u1","metadata":{},"productId":123}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	specs := Translate(e)
	assertTypes(t, specs, jobs.GraphSync, jobs.AnalyticsSync, jobs.RecommendationRefresh)
	if g := specs[0].Data.(jobs.GraphData); g.ProductID != "123" {
		t.Fatalf("unexpected graph product id %q", g.ProductID)
	}
	if r := specs[2].Data.(jobs.RecommendationData); r.ProductID != "123" {
		t.Fatalf("unexpected recommendation product id %q", r.ProductID)
	}

	order, err := events.Decode(`{"id":"o1","type":"ORDER_CREATED","timestamp":1,"sessionId":"s1","metadata":{},"orderId":"o1","items":[{"productId":1},{"productId":2}]}`)
	if err != nil {
		t.Fatalf("decode order: %v", err)
	}
	specs = Translate(order)
	assertTypes(t, specs, jobs.GraphSync, jobs.AnalyticsSync, jobs.GraphSync, jobs.GraphSync)
	if g := specs[2].Data.(jobs.GraphData); g.ProductID != "1" || g.RelatedProductID != "2" {
		t.Fatalf("unexpected co-purchase edge %+v", g)
	}
}

func TestProductInteractionAnonymous(t *testing.T) {
	for _, typ := range []events.Type{events.ProductViewed, events.ProductAddedToCart, events.ProductPurchased} {
		specs := Translate(events.New(typ, "s1"))
		assertTypes(t, specs, jobs.GraphSync, jobs.AnalyticsSync)
	}
}

func TestSearchZeroResults(t *testing.T) {
	e := events.New(events.SearchPerformed, "s1")
	e.Query = "red shoes"
	e.ResultsCount = intPtr(0)
	specs := Translate(e)
	assertTypes(t, specs, jobs.AnalyticsSync, jobs.VectorSync, jobs.AnalyticsSync)
	if specs[2].Priority != jobs.PriorityHigh {
		t.Fatalf("zero-result analytics job must be high priority")
	}
	if tag := specs[2].Data.(jobs.AnalyticsData).Tag; tag != jobs.TagZeroResults {
		t.Fatalf("expected tag %q, got %q", jobs.TagZeroResults, tag)
	}
	v := specs[1].Data.(jobs.VectorData)
	if v.Kind != jobs.VectorSearchPattern || v.Query != "red shoes" {
		t.Fatalf("unexpected vector payload: %+v", v)
	}
}

func TestSearchWithResults(t *testing.T) {
	e := events.New(events.SearchPerformed, "s1")
	e.ResultsCount = intPtr(5)
	assertTypes(t, Translate(e), jobs.AnalyticsSync, jobs.VectorSync)
}

func TestSearchWithoutCount(t *testing.T) {
	assertTypes(t, Translate(events.New(events.SearchPerformed, "s1")), jobs.AnalyticsSync, jobs.VectorSync)
}

func TestPageViewAndUserLifecycle(t *testing.T) {
	for _, typ := range []events.Type{events.PageViewed, events.UserRegistered, events.UserLogin} {
		e := events.New(typ, "s1")
		assertTypes(t, Translate(e), jobs.AnalyticsSync)
		e.UserID = "u1"
		assertTypes(t, Translate(e), jobs.AnalyticsSync, jobs.ProfileUpdate)
	}
}

func TestOrderFanOut(t *testing.T) {
	e := events.New(events.OrderCreated, "s1")
	e.OrderID = "o1"
	e.Items = []events.OrderItem{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 2}, {ProductID: "c", Quantity: 1}}
	specs := Translate(e)
	if len(specs) != 8 {
		t.Fatalf("expected 8 jobs, got %d", len(specs))
	}
	if specs[0].Type != jobs.GraphSync || specs[0].Priority != jobs.PriorityHigh || specs[0].Delay != 0 {
		t.Fatalf("first job must be the high priority order graph job: %+v", specs[0])
	}
	if specs[0].Data.(jobs.GraphData).Kind != jobs.GraphOrder {
		t.Fatalf("first job must carry the order kind")
	}
	if specs[1].Type != jobs.AnalyticsSync {
		t.Fatalf("second job must be analytics, got %s", specs[1].Type)
	}
	pairs := map[string]bool{}
	for _, s := range specs[2:] {
		g := s.Data.(jobs.GraphData)
		if s.Type != jobs.GraphSync || g.Kind != jobs.GraphCoPurchase {
			t.Fatalf("expected co-purchase graph job, got %+v", s)
		}
		if g.ProductID == g.RelatedProductID {
			t.Fatalf("item must not be paired with itself: %+v", g)
		}
		pairs[g.ProductID+">"+g.RelatedProductID] = true
	}
	if len(pairs) != 6 {
		t.Fatalf("expected 6 distinct ordered pairs, got %v", pairs)
	}
}

func TestOrderWithoutItems(t *testing.T) {
	assertTypes(t, Translate(events.New(events.OrderCreated, "s1")), jobs.GraphSync, jobs.AnalyticsSync)
}

func TestUnknownTypeYieldsOneAnalyticsJob(t *testing.T) {
	e := events.New(events.Type("WISHLIST_SHARED"), "s1")
	e.UserID = "u1"
	assertTypes(t, Translate(e), jobs.AnalyticsSync)
}

func TestAnalyticsProperties(t *testing.T) {
	e := events.New(events.SearchPerformed, "s1")
	e.Metadata["source"] = "header"
	e.Query = "lamp"
	e.ResultsCount = intPtr(0)
	props := Translate(e)[0].Data.(jobs.AnalyticsData).Properties
	if props["source"] != "header" || props["query"] != "lamp" || props["resultsCount"] != 0 {
		t.Fatalf("unexpected properties: %v", props)
	}
}
