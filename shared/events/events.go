// Package events defines the storefront business events carried by the event queue.
package events

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Type identifies an event. The string values are written to the queue as-is.
type Type string

const (
	ProductViewed      Type = "PRODUCT_VIEWED"
	ProductAddedToCart Type = "PRODUCT_ADDED_TO_CART"
	ProductPurchased   Type = "PRODUCT_PURCHASED"
	SearchPerformed    Type = "SEARCH_PERFORMED"
	PageViewed         Type = "PAGE_VIEWED"
	OrderCreated       Type = "ORDER_CREATED"
	UserRegistered     Type = "USER_REGISTERED"
	UserLogin          Type = "USER_LOGIN"
)

// Known reports whether t is one of the types this build knows how to fan out.
// Unknown types are still valid events.
func (t Type) Known() bool {
	switch t {
	case ProductViewed, ProductAddedToCart, ProductPurchased, SearchPerformed,
		PageViewed, OrderCreated, UserRegistered, UserLogin:
		return true
	}
	return false
}

// IsProductInteraction groups the view/cart/purchase events that share a fan-out.
func (t Type) IsProductInteraction() bool {
	return t == ProductViewed || t == ProductAddedToCart || t == ProductPurchased
}

func AllTypes() []Type {
	return []Type{
		ProductViewed, ProductAddedToCart, ProductPurchased, SearchPerformed,
		PageViewed, OrderCreated, UserRegistered, UserLogin,
	}
}

var ErrInvalid = errors.New("invalid event")

// ID is an identifier that producers may send as a JSON string or number. It is always
// re-encoded as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("id must be a string or number, got %s", b)
	}
	*id = ID(b)
	return nil
}

func (id ID) String() string { return string(id) }

type OrderItem struct {
	ProductID ID      `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Event is the common envelope plus the union of type-specific fields; producers fill only the
// fields their type uses.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Timestamp int64          `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Metadata  map[string]any `json:"metadata"`

	ProductID   ID      `json:"productId,omitempty"`
	ProductName string  `json:"productName,omitempty"`
	Category    string  `json:"category,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Quantity    int     `json:"quantity,omitempty"`

	Query        string            `json:"query,omitempty"`
	ResultsCount *int              `json:"resultsCount,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`

	OrderID  string      `json:"orderId,omitempty"`
	Items    []OrderItem `json:"items,omitempty"`
	Total    float64     `json:"total,omitempty"`
	Currency string      `json:"currency,omitempty"`

	Path     string `json:"path,omitempty"`
	Referrer string `json:"referrer,omitempty"`
	Email    string `json:"email,omitempty"`
}

// New returns an event with a fresh id and the current timestamp.
func New(t Type, sessionID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
		SessionID: sessionID,
		Metadata:  map[string]any{},
	}
}

func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		missing = append(missing, "type")
	}
	if e.Timestamp == 0 {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// OccurredAt converts the millisecond timestamp.
func (e Event) OccurredAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

func (e Event) HasUser() bool {
	return strings.TrimSpace(e.UserID) != ""
}

func Encode(e Event) (string, error) {
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func Decode(raw string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
