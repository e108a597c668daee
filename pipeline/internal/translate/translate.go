// Package translate maps storefront events to the jobs that persist them downstream.
// Job counts and order per event type are relied upon by the adapters and operators.
package translate

import (
	"time"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/events"
)

// RecommendationDelay lets the interaction's graph write land before recommendations refresh.
const RecommendationDelay = 10 * time.Second

// Translate never fails; an unrecognized event type yields a single analytics job.
func Translate(e events.Event) []jobs.Spec {
	switch {
	case e.Type.IsProductInteraction():
		return productInteraction(e)
	case e.Type == events.SearchPerformed:
		return search(e)
	case e.Type == events.PageViewed:
		return withProfile(e)
	case e.Type == events.OrderCreated:
		return order(e)
	case e.Type == events.UserRegistered, e.Type == events.UserLogin:
		return withProfile(e)
	default:
		return []jobs.Spec{analytics(e, "", jobs.PriorityNormal)}
	}
}

func productInteraction(e events.Event) []jobs.Spec {
	specs := []jobs.Spec{
		{
			Type: jobs.GraphSync,
			Data: jobs.GraphData{
				Kind:      jobs.GraphInteraction,
				EventID:   e.ID,
				EventType: e.Type,
				SessionID: e.SessionID,
				UserID:    e.UserID,
				Timestamp: e.Timestamp,
				ProductID: e.ProductID.String(),
				Quantity:  e.Quantity,
				Price:     e.Price,
			},
		},
		analytics(e, "", jobs.PriorityNormal),
	}
	if e.HasUser() {
		specs = append(specs, jobs.Spec{
			Type: jobs.RecommendationRefresh,
			Data: jobs.RecommendationData{
				UserID:    e.UserID,
				ProductID: e.ProductID.String(),
				EventType: e.Type,
				Timestamp: e.Timestamp,
			},
			Delay: RecommendationDelay,
		})
	}
	return specs
}

func search(e events.Event) []jobs.Spec {
	results := 0
	if e.ResultsCount != nil {
		results = *e.ResultsCount
	}
	specs := []jobs.Spec{
		analytics(e, "", jobs.PriorityNormal),
		{
			Type: jobs.VectorSync,
			Data: jobs.VectorData{
				Kind:         jobs.VectorSearchPattern,
				EventID:      e.ID,
				Query:        e.Query,
				ResultsCount: results,
				Filters:      e.Filters,
				SessionID:    e.SessionID,
				UserID:       e.UserID,
				Timestamp:    e.Timestamp,
			},
		},
	}
	// A missing count is not a zero-result search.
	if e.ResultsCount != nil && results == 0 {
		specs = append(specs, analytics(e, jobs.TagZeroResults, jobs.PriorityHigh))
	}
	return specs
}

// withProfile covers page views and user lifecycle events.
func withProfile(e events.Event) []jobs.Spec {
	specs := []jobs.Spec{analytics(e, "", jobs.PriorityNormal)}
	if e.HasUser() {
		specs = append(specs, jobs.Spec{
			Type: jobs.ProfileUpdate,
			Data: jobs.ProfileData{
				UserID:    e.UserID,
				EventID:   e.ID,
				EventType: e.Type,
				SessionID: e.SessionID,
				Path:      e.Path,
				Email:     e.Email,
				Timestamp: e.Timestamp,
			},
		})
	}
	return specs
}

func order(e events.Event) []jobs.Spec {
	specs := make([]jobs.Spec, 0, 2+len(e.Items)*(len(e.Items)-1))
	specs = append(specs,
		jobs.Spec{
			Type: jobs.GraphSync,
			Data: jobs.GraphData{
				Kind:      jobs.GraphOrder,
				EventID:   e.ID,
				EventType: e.Type,
				SessionID: e.SessionID,
				UserID:    e.UserID,
				Timestamp: e.Timestamp,
				OrderID:   e.OrderID,
				Items:     e.Items,
				Total:     e.Total,
				Currency:  e.Currency,
			},
			Priority: jobs.PriorityHigh,
		},
		analytics(e, "", jobs.PriorityNormal),
	)
	// Every ordered pair, so each item links to every other item in the order.
	for i, item := range e.Items {
		for j, other := range e.Items {
			if i == j {
				continue
			}
			specs = append(specs, jobs.Spec{
				Type: jobs.GraphSync,
				Data: jobs.GraphData{
					Kind:             jobs.GraphCoPurchase,
					EventID:          e.ID,
					EventType:        e.Type,
					UserID:           e.UserID,
					Timestamp:        e.Timestamp,
					OrderID:          e.OrderID,
					ProductID:        item.ProductID.String(),
					RelatedProductID: other.ProductID.String(),
					Quantity:         item.Quantity,
				},
			})
		}
	}
	return specs
}

func analytics(e events.Event, tag string, priority jobs.Priority) jobs.Spec {
	return jobs.Spec{
		Type: jobs.AnalyticsSync,
		Data: jobs.AnalyticsData{
			EventID:    e.ID,
			EventType:  e.Type,
			SessionID:  e.SessionID,
			UserID:     e.UserID,
			Timestamp:  e.Timestamp,
			Tag:        tag,
			Properties: properties(e),
		},
		Priority: priority,
	}
}

// properties flattens the type-specific fields next to the event metadata.
func properties(e events.Event) map[string]any {
	props := make(map[string]any, len(e.Metadata)+4)
	for k, v := range e.Metadata {
		props[k] = v
	}
	set := func(key string, v any, ok bool) {
		if ok {
			props[key] = v
		}
	}
	set("productId", e.ProductID.String(), e.ProductID != "")
	set("productName", e.ProductName, e.ProductName != "")
	set("category", e.Category, e.Category != "")
	set("price", e.Price, e.Price != 0)
	set("quantity", e.Quantity, e.Quantity != 0)
	set("query", e.Query, e.Query != "")
	if e.ResultsCount != nil {
		props["resultsCount"] = *e.ResultsCount
	}
	set("orderId", e.OrderID, e.OrderID != "")
	set("itemCount", len(e.Items), len(e.Items) > 0)
	set("total", e.Total, e.Total != 0)
	set("currency", e.Currency, e.Currency != "")
	set("path", e.Path, e.Path != "")
	set("referrer", e.Referrer, e.Referrer != "")
	if len(props) == 0 {
		return nil
	}
	return props
}
