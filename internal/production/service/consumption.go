package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/shopspring/decimal"
)

// ConsumptionEntry is the actual quantity used from one allocation.
type ConsumptionEntry struct {
	AllocationID     string          `json:"allocation_id" validate:"required"`
	QuantityConsumed decimal.Decimal `json:"quantity_consumed"`
}

// ConsumptionRecorder turns reservations into consumed stock.
type ConsumptionRecorder struct {
	component
}

// NewConsumptionRecorder creates a new consumption recorder
func NewConsumptionRecorder(stores Stores, publisher EventPublisher, cfg config.ProductionConfig, log *logger.Logger, opts ...Option) *ConsumptionRecorder {
	return &ConsumptionRecorder{component: newComponent("consumption", stores, publisher, cfg, log, opts)}
}

// RecordConsumption applies each entry in its own transaction. Every entry is
// attempted; entries that fail leave no trace and their errors are joined.
// Entries that succeeded stay committed even when others fail.
func (r *ConsumptionRecorder) RecordConsumption(ctx context.Context, entries []ConsumptionEntry) error {
	return r.record(ctx, "", entries)
}

// RecordRunConsumption is RecordConsumption restricted to allocations of runID.
// Entries naming another run's allocation fail as unknown allocations.
func (r *ConsumptionRecorder) RecordRunConsumption(ctx context.Context, runID string, entries []ConsumptionEntry) error {
	return r.record(ctx, runID, entries)
}

func (r *ConsumptionRecorder) record(ctx context.Context, runID string, entries []ConsumptionEntry) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for i, entry := range entries {
		allocation, err := r.consume(ctx, tenantID, runID, entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (allocation %s): %w", i, entry.AllocationID, err))
			continue
		}
		r.publisher.AllocationConsumed(ctx, allocation)
	}

	if len(errs) > 0 {
		r.logger.Warn().
			Str("tenant_id", tenantID).
			Int("entries", len(entries)).
			Int("failed", len(errs)).
			Msg("consumption recorded with failures")
	}
	return errors.Join(errs...)
}

func (r *ConsumptionRecorder) consume(ctx context.Context, tenantID, runID string, entry ConsumptionEntry) (*domain.Allocation, error) {
	if entry.QuantityConsumed.IsNegative() {
		return nil, &domain.ValidationError{Field: "quantity_consumed", Message: "must not be negative"}
	}

	var consumed *domain.Allocation
	err := r.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		allocation, err := r.loadAllocation(ctx, tenantID, entry.AllocationID)
		if err != nil {
			return err
		}
		if runID != "" && allocation.ProductionRunID != runID {
			return &domain.InvalidAllocationStateError{AllocationID: entry.AllocationID, Expected: domain.AllocationReserved}
		}

		run, err := r.stores.Runs.LockRun(ctx, tenantID, allocation.ProductionRunID)
		if err != nil {
			return err
		}
		// re-read now that the run lock serialises writers of this allocation
		allocation, err = r.loadAllocation(ctx, tenantID, entry.AllocationID)
		if err != nil {
			return err
		}

		now := r.clock()
		if err := allocation.MarkConsumed(entry.QuantityConsumed, now); err != nil {
			return err
		}
		if err := r.stores.Batches.Consume(ctx, tenantID, allocation.BatchID, entry.QuantityConsumed, allocation.QuantityAllocated); err != nil {
			return err
		}
		if err := r.stores.Runs.UpdateAllocation(ctx, allocation); err != nil {
			return err
		}

		if run.Start(now) {
			if err := r.stores.Runs.UpdateRun(ctx, run); err != nil {
				return err
			}
		}

		consumed = allocation
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithTenantID(tenantID).Info().
		Str("run_id", consumed.ProductionRunID).
		Str("allocation_id", consumed.ID).
		Str("allocated", consumed.QuantityAllocated.String()).
		Str("consumed", entry.QuantityConsumed.String()).
		Msg("consumption recorded")

	return consumed, nil
}

func (r *ConsumptionRecorder) loadAllocation(ctx context.Context, tenantID, allocationID string) (*domain.Allocation, error) {
	allocation, err := r.stores.Runs.GetAllocation(ctx, tenantID, allocationID)
	if errors.Is(err, domain.ErrAllocationNotFound) {
		return nil, &domain.InvalidAllocationStateError{AllocationID: allocationID, Expected: domain.AllocationReserved}
	}
	return allocation, err
}
