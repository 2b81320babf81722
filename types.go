package posoffline

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is the error body returned by the POS API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic POS API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Reference Data
// ============================================================================

type Customer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
}

type Service struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	DurationMin int     `json:"durationMin,omitempty"`
	Category    string  `json:"category,omitempty"`
	Active      bool    `json:"active"`
}

type Discount struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Type    string  `json:"type"` // "percent" or "fixed"
	Value   float64 `json:"value"`
	Active  bool    `json:"active"`
	Expires string  `json:"expires,omitempty"`
}

type Station struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

// ============================================================================
// Orders & Drafts
// ============================================================================

type OrderItem struct {
	ServiceID string  `json:"serviceId"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Order is a confirmed order, or a queued placeholder when Queued is set.
type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	StationID  string      `json:"stationId,omitempty"`
	DiscountID string      `json:"discountId,omitempty"`
	Items      []OrderItem `json:"items"`
	Total      float64     `json:"total"`
	Status     string      `json:"status"`
	Notes      string      `json:"notes,omitempty"`
	CreatedAt  string      `json:"createdAt"`

	// Placeholder bookkeeping, never sent by the server.
	Queued   bool   `json:"queued,omitempty"`
	ActionID string `json:"actionId,omitempty"`
}

// CreateOrderInput is the body of POST /orders.
type CreateOrderInput struct {
	CustomerID string      `json:"customerId" validate:"required"`
	StationID  string      `json:"stationId,omitempty"`
	DiscountID string      `json:"discountId,omitempty"`
	Items      []OrderItem `json:"items" validate:"required,min=1,dive"`
	Total      float64     `json:"total" validate:"gte=0"`
	Notes      string      `json:"notes,omitempty"`
}

type Draft struct {
	ID         string      `json:"id,omitempty"`
	CustomerID string      `json:"customerId,omitempty"`
	StationID  string      `json:"stationId,omitempty"`
	Items      []OrderItem `json:"items"`
	Notes      string      `json:"notes,omitempty"`
	UpdatedAt  string      `json:"updatedAt,omitempty"`
}

// ============================================================================
// Placeholder status values
// ============================================================================

const (
	OrderStatusPendingSync = "pending_sync"
	OrderStatusSyncFailed  = "sync_failed"
)

// ============================================================================
// Resources
// ============================================================================

const (
	ResourceCustomers = "customers"
	ResourceServices  = "services"
	ResourceDiscounts = "discounts"
	ResourceStations  = "stations"
	ResourceOrders    = "orders"
	ResourceDrafts    = "drafts"
)

// CriticalResources are warmed into the cache on startup.
var CriticalResources = []string{
	ResourceCustomers,
	ResourceServices,
	ResourceDiscounts,
	ResourceStations,
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
