package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors used across layers. The typed errors below match them with errors.Is.
var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrOverconsumption        = errors.New("consumed quantity exceeds allocated quantity")
	ErrInvalidAllocationState = errors.New("invalid allocation state")
	ErrInvalidRunState        = errors.New("invalid production run state")
	ErrRecipeNotFound         = errors.New("recipe not found")
	ErrMaterialNotFound       = errors.New("material not found")
	ErrRunNotFound            = errors.New("production run not found")
	ErrAllocationNotFound     = errors.New("allocation not found")
	ErrBatchNotFound          = errors.New("batch not found")
	ErrConcurrencyConflict    = errors.New("concurrent modification conflict")
	ErrValidation             = errors.New("validation failed")
)

// InsufficientStockError names the short material and how much is missing.
type InsufficientStockError struct {
	Material  MaterialRef
	Required  decimal.Decimal
	Available decimal.Decimal
}

// Shortage is Required minus Available.
func (e *InsufficientStockError) Shortage() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: required %s, available %s, short %s",
		e.Material, e.Required, e.Available, e.Shortage())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// OverconsumptionError is returned when more is consumed than was allocated.
type OverconsumptionError struct {
	AllocationID string
	Allocated    decimal.Decimal
	Consumed     decimal.Decimal
}

func (e *OverconsumptionError) Error() string {
	return fmt.Sprintf("allocation %s: consumed %s exceeds allocated %s", e.AllocationID, e.Consumed, e.Allocated)
}

func (e *OverconsumptionError) Is(target error) bool { return target == ErrOverconsumption }

// InvalidAllocationStateError is returned when an allocation is not in the state an
// operation needs. An empty Status means the allocation does not exist.
type InvalidAllocationStateError struct {
	AllocationID string
	Status       AllocationStatus
	Expected     AllocationStatus
}

func (e *InvalidAllocationStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("allocation %s not found", e.AllocationID)
	}
	return fmt.Sprintf("allocation %s is %s, expected %s", e.AllocationID, e.Status, e.Expected)
}

func (e *InvalidAllocationStateError) Is(target error) bool {
	if target == ErrInvalidAllocationState {
		return true
	}
	return e.Status == "" && target == ErrAllocationNotFound
}

// InvalidRunStateError is returned when an operation is not allowed in the run's status.
type InvalidRunStateError struct {
	RunID     string
	Status    RunStatus
	Operation string
	Reason    string
}

func (e *InvalidRunStateError) Error() string {
	msg := fmt.Sprintf("cannot %s production run %s in status %s", e.Operation, e.RunID, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidRunStateError) Is(target error) bool { return target == ErrInvalidRunState }

// RecipeNotFoundError is returned when a run references a recipe that does not exist.
type RecipeNotFoundError struct {
	RecipeID string
}

func (e *RecipeNotFoundError) Error() string {
	return fmt.Sprintf("recipe %s not found", e.RecipeID)
}

func (e *RecipeNotFoundError) Is(target error) bool { return target == ErrRecipeNotFound }

// MaterialNotFoundError is returned when a recipe ingredient references a missing material.
type MaterialNotFoundError struct {
	Material MaterialRef
}

func (e *MaterialNotFoundError) Error() string {
	return fmt.Sprintf("material %s not found", e.Material)
}

func (e *MaterialNotFoundError) Is(target error) bool { return target == ErrMaterialNotFound }

// ConcurrencyError is returned after the allocation retries are exhausted.
type ConcurrencyError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyError) Unwrap() error { return e.Err }

func (e *ConcurrencyError) Is(target error) bool { return target == ErrConcurrencyConflict }

// ValidationError reports a bad input value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
