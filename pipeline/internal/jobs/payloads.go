package jobs

import "storefront-pipeline/shared/events"

// Graph payload kinds.
const (
	GraphInteraction = "interaction"
	GraphOrder       = "order"
	GraphCoPurchase  = "co_purchase"
)

const (
	VectorSearchPattern = "search_pattern"
	TagZeroResults      = "zero_results"
)

type GraphData struct {
	Kind      string      `json:"kind"`
	EventID   string      `json:"eventId"`
	EventType events.Type `json:"eventType"`
	SessionID string      `json:"sessionId,omitempty"`
	UserID    string      `json:"userId,omitempty"`
	Timestamp int64       `json:"timestamp"`

	ProductID string  `json:"productId,omitempty"`
	Quantity  int     `json:"quantity,omitempty"`
	Price     float64 `json:"price,omitempty"`

	OrderID  string             `json:"orderId,omitempty"`
	Items    []events.OrderItem `json:"items,omitempty"`
	Total    float64            `json:"total,omitempty"`
	Currency string             `json:"currency,omitempty"`

	// Co-purchase edge: ProductID was bought together with RelatedProductID.
	RelatedProductID string `json:"relatedProductId,omitempty"`
}

type AnalyticsData struct {
	EventID    string         `json:"eventId"`
	EventType  events.Type    `json:"eventType"`
	SessionID  string         `json:"sessionId,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	Timestamp  int64          `json:"timestamp"`
	Tag        string         `json:"tag,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type VectorData struct {
	Kind         string            `json:"kind"`
	EventID      string            `json:"eventId"`
	Query        string            `json:"query"`
	ResultsCount int               `json:"resultsCount"`
	Filters      map[string]string `json:"filters,omitempty"`
	SessionID    string            `json:"sessionId,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Timestamp    int64             `json:"timestamp"`
}

type RecommendationData struct {
	UserID    string      `json:"userId"`
	ProductID string      `json:"productId,omitempty"`
	EventType events.Type `json:"eventType"`
	Timestamp int64       `json:"timestamp"`
}

type ProfileData struct {
	UserID    string      `json:"userId"`
	EventID   string      `json:"eventId"`
	EventType events.Type `json:"eventType"`
	SessionID string      `json:"sessionId,omitempty"`
	Path      string      `json:"path,omitempty"`
	Email     string      `json:"email,omitempty"`
	Timestamp int64       `json:"timestamp"`
}
