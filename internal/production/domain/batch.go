package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is a physical lot of one material with its own expiry and unit cost.
// Invariant: 0 <= Reserved <= OnHand.
type Batch struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Material        MaterialRef     `json:"material"`
	BatchNumber     string          `json:"batch_number"`
	OnHand          decimal.Decimal `json:"on_hand_quantity"`
	Reserved        decimal.Decimal `json:"reserved_quantity"`
	Unit            string          `json:"unit"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ExpirationDate  *time.Time      `json:"expiration_date,omitempty"`
	ProductionRunID *string         `json:"production_run_id,omitempty"`
	// Seq is the storage insertion order, the final FEFO tie-break.
	Seq       int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is the quantity that can still be reserved.
func (b *Batch) Available() decimal.Decimal {
	return b.OnHand.Sub(b.Reserved)
}

// CheckInvariant verifies 0 <= Reserved <= OnHand.
func (b *Batch) CheckInvariant() error {
	if b.OnHand.IsNegative() {
		return fmt.Errorf("batch %s: on-hand quantity %s is negative", b.ID, b.OnHand)
	}
	if b.Reserved.IsNegative() {
		return fmt.Errorf("batch %s: reserved quantity %s is negative", b.ID, b.Reserved)
	}
	if b.Reserved.GreaterThan(b.OnHand) {
		return fmt.Errorf("batch %s: reserved quantity %s exceeds on-hand %s", b.ID, b.Reserved, b.OnHand)
	}
	return nil
}

// Reserve moves qty from available to reserved.
func (b *Batch) Reserve(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return &ValidationError{Field: "quantity", Message: "reservation must be positive"}
	}
	if b.Available().LessThan(qty) {
		return fmt.Errorf("batch %s has %s available, cannot reserve %s: %w", b.ID, b.Available(), qty, ErrConcurrencyConflict)
	}
	b.Reserved = b.Reserved.Add(qty)
	return nil
}

// Release returns qty from reserved to available. On-hand is unchanged.
func (b *Batch) Release(qty decimal.Decimal) error {
	if qty.GreaterThan(b.Reserved) {
		return fmt.Errorf("batch %s has %s reserved, cannot release %s: %w", b.ID, b.Reserved, qty, ErrConcurrencyConflict)
	}
	b.Reserved = b.Reserved.Sub(qty)
	return nil
}

// Consume removes consumed from on-hand and drops the reservation that covered it.
// The reservation is released in full even when less was consumed.
func (b *Batch) Consume(consumed, reserved decimal.Decimal) error {
	if reserved.GreaterThan(b.Reserved) {
		return fmt.Errorf("batch %s has %s reserved, cannot settle %s: %w", b.ID, b.Reserved, reserved, ErrConcurrencyConflict)
	}
	if consumed.GreaterThan(b.OnHand) {
		return fmt.Errorf("batch %s has %s on hand, cannot consume %s: %w", b.ID, b.OnHand, consumed, ErrConcurrencyConflict)
	}
	b.OnHand = b.OnHand.Sub(consumed)
	b.Reserved = b.Reserved.Sub(reserved)
	return b.CheckInvariant()
}
