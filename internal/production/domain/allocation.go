package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationStatus is the lifecycle state of a reservation.
type AllocationStatus string

// RESERVED -> CONSUMED and RESERVED -> RELEASED are the only transitions.
const (
	AllocationReserved AllocationStatus = "RESERVED"
	AllocationConsumed AllocationStatus = "CONSUMED"
	AllocationReleased AllocationStatus = "RELEASED"
)

// Allocation reserves part of one batch for one production run.
// UnitCost is the batch unit cost at allocation time and never changes afterwards.
type Allocation struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenant_id"`
	ProductionRunID   string           `json:"production_run_id"`
	Material          MaterialRef      `json:"material"`
	BatchID           string           `json:"batch_id"`
	QuantityAllocated decimal.Decimal  `json:"quantity_allocated"`
	QuantityConsumed  *decimal.Decimal `json:"quantity_consumed,omitempty"`
	Unit              string           `json:"unit"`
	UnitCost          decimal.Decimal  `json:"unit_cost"`
	Status            AllocationStatus `json:"status"`
	Seq               int64            `json:"-"`
	CreatedAt         time.Time        `json:"created_at"`
	ConsumedAt        *time.Time       `json:"consumed_at,omitempty"`
	ReleasedAt        *time.Time       `json:"released_at,omitempty"`
}

// Variance is allocated minus consumed. Zero until consumption is recorded.
func (a *Allocation) Variance() decimal.Decimal {
	if a.QuantityConsumed == nil {
		return decimal.Zero
	}
	return a.QuantityAllocated.Sub(*a.QuantityConsumed)
}

// MarkConsumed records consumption and moves the allocation to CONSUMED.
func (a *Allocation) MarkConsumed(qty decimal.Decimal, at time.Time) error {
	if a.Status != AllocationReserved {
		return &InvalidAllocationStateError{AllocationID: a.ID, Status: a.Status, Expected: AllocationReserved}
	}
	if qty.IsNegative() {
		return &ValidationError{Field: "quantity_consumed", Message: "must not be negative"}
	}
	if qty.GreaterThan(a.QuantityAllocated) {
		return &OverconsumptionError{AllocationID: a.ID, Allocated: a.QuantityAllocated, Consumed: qty}
	}
	a.QuantityConsumed = &qty
	a.Status = AllocationConsumed
	a.ConsumedAt = &at
	return nil
}

// MarkReleased moves a RESERVED allocation to RELEASED.
func (a *Allocation) MarkReleased(at time.Time) error {
	if a.Status != AllocationReserved {
		return &InvalidAllocationStateError{AllocationID: a.ID, Status: a.Status, Expected: AllocationReserved}
	}
	a.Status = AllocationReleased
	a.ReleasedAt = &at
	return nil
}
