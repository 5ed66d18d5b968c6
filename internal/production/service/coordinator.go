package service

import (
	"context"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CompletionResult is the completed run and the finished-goods batch it produced.
type CompletionResult struct {
	Run              *domain.ProductionRun `json:"run"`
	OutputBatch      *domain.Batch         `json:"output_batch"`
	AlreadyCompleted bool                  `json:"already_completed"`
}

// Coordinator completes and cancels production runs.
type Coordinator struct {
	component
}

// NewCoordinator creates a new completion/rollback coordinator
func NewCoordinator(stores Stores, publisher EventPublisher, cfg config.ProductionConfig, log *logger.Logger, opts ...Option) *Coordinator {
	return &Coordinator{component: newComponent("coordinator", stores, publisher, cfg, log, opts)}
}

// CompleteProductionRun books actualQuantity of the recipe's output product as a
// new batch priced at the run's actual cost, and marks the run COMPLETED.
// Completing a COMPLETED run returns the stored result without side effects.
func (c *Coordinator) CompleteProductionRun(ctx context.Context, runID string, actualQuantity decimal.Decimal) (*CompletionResult, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if !actualQuantity.IsPositive() {
		return nil, &domain.ValidationError{Field: "actual_quantity", Message: "must be greater than zero"}
	}

	var result *CompletionResult
	err = c.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		run, err := c.stores.Runs.LockRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}

		switch run.Status {
		case domain.RunCompleted:
			output, err := c.storedOutput(ctx, run)
			if err != nil {
				return err
			}
			result = &CompletionResult{Run: run, OutputBatch: output, AlreadyCompleted: true}
			return nil
		case domain.RunCancelled:
			return &domain.InvalidRunStateError{RunID: run.ID, Status: run.Status, Operation: "complete"}
		}

		result, err = c.complete(ctx, run, actualQuantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyCompleted {
		c.logger.Debug().Str("run_id", runID).Msg("production run already completed")
		return result, nil
	}

	c.logger.Info().
		Str("tenant_id", tenantID).
		Str("run_id", runID).
		Str("output_batch_id", result.OutputBatch.ID).
		Str("quantity", actualQuantity.String()).
		Str("total_cost", result.Run.TotalCost.String()).
		Msg("production run completed")

	c.publisher.RunCompleted(ctx, result.Run, result.OutputBatch)
	return result, nil
}

func (c *Coordinator) complete(ctx context.Context, run *domain.ProductionRun, actualQuantity decimal.Decimal) (*CompletionResult, error) {
	allocations, err := c.stores.Runs.ListAllocations(ctx, run.TenantID, run.ID)
	if err != nil {
		return nil, err
	}
	recipe, err := c.stores.Recipes.GetRecipe(ctx, run.TenantID, run.RecipeID)
	if err != nil {
		return nil, err
	}
	if needsStock(recipe) && !hasLiveAllocations(allocations) {
		return nil, &domain.InvalidRunStateError{
			RunID:     run.ID,
			Status:    run.Status,
			Operation: "complete",
			Reason:    "run has no allocated stock",
		}
	}

	now := c.clock()
	for _, a := range allocations {
		if a.Status != domain.AllocationReserved {
			continue
		}
		if !c.cfg.ForceConsumeOnComplete {
			return nil, &domain.InvalidAllocationStateError{AllocationID: a.ID, Status: a.Status, Expected: domain.AllocationConsumed}
		}
		if err := c.forceConsume(ctx, a, now); err != nil {
			return nil, err
		}
	}

	cost := ComputeCost(allocations, c.overheadPercent(recipe.OverheadPercent), &actualQuantity, CostBasisActual)

	shelfLife := c.cfg.DefaultShelfLife
	if recipe.ShelfLife != nil {
		shelfLife = *recipe.ShelfLife
	}
	expires := now.Add(shelfLife)
	runID := run.ID

	output := &domain.Batch{
		ID:              uuid.NewString(),
		TenantID:        run.TenantID,
		Material:        domain.FinishedProduct(recipe.OutputProductID),
		BatchNumber:     domain.OutputBatchNumber(run.ID, now),
		OnHand:          actualQuantity,
		Reserved:        decimal.Zero,
		Unit:            run.Unit,
		UnitCost:        *cost.CostPerUnit,
		ExpirationDate:  &expires,
		ProductionRunID: &runID,
		CreatedAt:       now,
	}
	if err := c.stores.Batches.Create(ctx, output); err != nil {
		return nil, err
	}

	run.Status = domain.RunCompleted
	run.FinalQuantity = &actualQuantity
	run.MaterialCost = &cost.MaterialCost
	run.OverheadCost = &cost.OverheadCost
	run.TotalCost = &cost.TotalCost
	run.OutputBatchID = &output.ID
	run.CompletedAt = &now
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if err := c.stores.Runs.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	return &CompletionResult{Run: run, OutputBatch: output}, nil
}

func needsStock(recipe *domain.Recipe) bool {
	for _, ing := range recipe.Ingredients {
		if ing.Quantity.IsPositive() {
			return true
		}
	}
	return false
}

func hasLiveAllocations(allocations []*domain.Allocation) bool {
	for _, a := range allocations {
		if a.Status != domain.AllocationReleased {
			return true
		}
	}
	return false
}

// forceConsume settles a still-reserved allocation at its full allocated quantity.
func (c *Coordinator) forceConsume(ctx context.Context, a *domain.Allocation, now time.Time) error {
	if err := a.MarkConsumed(a.QuantityAllocated, now); err != nil {
		return err
	}
	if err := c.stores.Batches.Consume(ctx, a.TenantID, a.BatchID, a.QuantityAllocated, a.QuantityAllocated); err != nil {
		return err
	}
	if err := c.stores.Runs.UpdateAllocation(ctx, a); err != nil {
		return err
	}

	c.logger.Warn().
		Str("run_id", a.ProductionRunID).
		Str("allocation_id", a.ID).
		Str("quantity", a.QuantityAllocated.String()).
		Msg("no consumption recorded, consumed full allocation on completion")
	return nil
}

func (c *Coordinator) storedOutput(ctx context.Context, run *domain.ProductionRun) (*domain.Batch, error) {
	if run.OutputBatchID == nil {
		return nil, nil
	}
	return c.stores.Batches.GetByID(ctx, run.TenantID, *run.OutputBatchID)
}

// CancelProductionRun releases every RESERVED allocation of the run and marks it
// CANCELLED. On-hand stock is never touched and CONSUMED allocations stay as
// they are. Cancelling a CANCELLED run does nothing.
func (c *Coordinator) CancelProductionRun(ctx context.Context, runID string) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}

	var run *domain.ProductionRun
	var released int
	var alreadyCancelled bool
	err = c.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		run, err = c.stores.Runs.LockRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}

		switch run.Status {
		case domain.RunCancelled:
			alreadyCancelled = true
			return nil
		case domain.RunCompleted:
			return &domain.InvalidRunStateError{RunID: run.ID, Status: run.Status, Operation: "cancel"}
		}

		allocations, err := c.stores.Runs.ListAllocations(ctx, tenantID, runID)
		if err != nil {
			return err
		}

		now := c.clock()
		for _, a := range allocations {
			if a.Status != domain.AllocationReserved {
				continue
			}
			if err := c.stores.Batches.Release(ctx, tenantID, a.BatchID, a.QuantityAllocated); err != nil {
				return err
			}
			if err := a.MarkReleased(now); err != nil {
				return err
			}
			if err := c.stores.Runs.UpdateAllocation(ctx, a); err != nil {
				return err
			}
			released++
		}

		run.Status = domain.RunCancelled
		run.CancelledAt = &now
		return c.stores.Runs.UpdateRun(ctx, run)
	})
	if err != nil {
		return err
	}
	if alreadyCancelled {
		return nil
	}

	c.logger.Info().
		Str("tenant_id", tenantID).
		Str("run_id", runID).
		Int("released_allocations", released).
		Msg("production run cancelled")

	c.publisher.RunCancelled(ctx, run, released)
	return nil
}
