package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	// Production events
	EventRunPlanned         = "production.run.planned"
	EventRunAllocated       = "production.run.allocated"
	EventAllocationConsumed = "production.allocation.consumed"
	EventRunCompleted       = "production.run.completed"
	EventRunCancelled       = "production.run.cancelled"

	// Inventory events
	EventStockReceived = "inventory.stock.received"
)

// Exchange names
const (
	ExchangeProductionEvents = "production.events"
	ExchangeInventoryEvents  = "inventory.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, tenantID, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		TenantID:      tenantID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Production Events

// AllocationLine describes one batch draw inside an allocation event.
type AllocationLine struct {
	AllocationID string          `json:"allocation_id"`
	MaterialKind string          `json:"material_kind"`
	MaterialID   string          `json:"material_id"`
	BatchID      string          `json:"batch_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

// RunPlannedEvent is published when a production run is created
type RunPlannedEvent struct {
	RunID          string          `json:"run_id"`
	RecipeID       string          `json:"recipe_id"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	Unit           string          `json:"unit"`
	Multiplier     decimal.Decimal `json:"multiplier"`
}

// RunAllocatedEvent is published when stock has been reserved for a run
type RunAllocatedEvent struct {
	RunID       string           `json:"run_id"`
	RecipeID    string           `json:"recipe_id"`
	Allocations []AllocationLine `json:"allocations"`
}

// AllocationConsumedEvent is published when consumption is recorded against an allocation
type AllocationConsumedEvent struct {
	RunID             string          `json:"run_id"`
	AllocationID      string          `json:"allocation_id"`
	BatchID           string          `json:"batch_id"`
	QuantityAllocated decimal.Decimal `json:"quantity_allocated"`
	QuantityConsumed  decimal.Decimal `json:"quantity_consumed"`
	Variance          decimal.Decimal `json:"variance"`
}

// RunCompletedEvent is published when a run completes and its output batch exists
type RunCompletedEvent struct {
	RunID             string          `json:"run_id"`
	RecipeID          string          `json:"recipe_id"`
	OutputBatchID     string          `json:"output_batch_id"`
	OutputBatchNumber string          `json:"output_batch_number"`
	ProductID         string          `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	MaterialCost      decimal.Decimal `json:"material_cost"`
	OverheadCost      decimal.Decimal `json:"overhead_cost"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	ExpirationDate    *time.Time      `json:"expiration_date,omitempty"`
}

// RunCancelledEvent is published when a run is cancelled and its reservations released
type RunCancelledEvent struct {
	RunID               string `json:"run_id"`
	ReleasedAllocations int    `json:"released_allocations"`
}

// Inventory Events

// StockReceivedEvent is published by purchasing/inventory when goods arrive
type StockReceivedEvent struct {
	BatchID        string          `json:"batch_id,omitempty"`
	MaterialKind   string          `json:"material_kind"`
	MaterialID     string          `json:"material_id"`
	BatchNumber    string          `json:"batch_number"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.NewString()
}
