package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationEngine reserves batch stock for production runs in FEFO order.
type AllocationEngine struct {
	component
}

// NewAllocationEngine creates a new allocation engine
func NewAllocationEngine(stores Stores, publisher EventPublisher, cfg config.ProductionConfig, log *logger.Logger, opts ...Option) *AllocationEngine {
	return &AllocationEngine{component: newComponent("allocation", stores, publisher, cfg, log, opts)}
}

// Allocate reserves ingredient.quantity × multiplier of every ingredient of the
// recipe for the run. Either every ingredient is fully reserved or nothing is.
// Concurrency conflicts retry the whole transaction a bounded number of times.
func (e *AllocationEngine) Allocate(ctx context.Context, runID, recipeID string, multiplier decimal.Decimal) ([]*domain.Allocation, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if !multiplier.IsPositive() {
		return nil, &domain.ValidationError{Field: "multiplier", Message: "must be greater than zero"}
	}

	var run *domain.ProductionRun
	var allocations []*domain.Allocation
	err = retryOnConflict(ctx, e.cfg.AllocationMaxRetries, e.cfg.AllocationRetryInterval, e.logger, func() error {
		return e.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			run, err = e.stores.Runs.LockRun(ctx, tenantID, runID)
			if err != nil {
				return err
			}
			if run.RecipeID != recipeID {
				return &domain.ValidationError{Field: "recipe_id", Message: fmt.Sprintf("run %s is for recipe %s", run.ID, run.RecipeID)}
			}
			allocations, err = e.allocateRun(ctx, run, multiplier)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	e.publisher.RunAllocated(ctx, run, allocations)
	return allocations, nil
}

// allocateRun does the reservation work for one run. The caller holds a
// transaction and the run lock.
func (e *AllocationEngine) allocateRun(ctx context.Context, run *domain.ProductionRun, multiplier decimal.Decimal) ([]*domain.Allocation, error) {
	if run.Status.IsTerminal() {
		return nil, &domain.InvalidRunStateError{RunID: run.ID, Status: run.Status, Operation: "allocate"}
	}

	existing, err := e.stores.Runs.ListAllocations(ctx, run.TenantID, run.ID)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.Status != domain.AllocationReleased {
			return nil, &domain.InvalidRunStateError{RunID: run.ID, Status: run.Status, Operation: "allocate", Reason: "stock is already allocated"}
		}
	}

	ingredients, err := e.stores.Recipes.GetIngredients(ctx, run.TenantID, run.RecipeID)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	var created []*domain.Allocation
	for _, ingredient := range ingredients {
		lines, err := e.allocateIngredient(ctx, run, ingredient, multiplier, now)
		if err != nil {
			return nil, err
		}
		created = append(created, lines...)
	}

	e.logger.Info().
		Str("tenant_id", run.TenantID).
		Str("run_id", run.ID).
		Str("recipe_id", run.RecipeID).
		Str("multiplier", multiplier.String()).
		Int("allocations", len(created)).
		Msg("stock allocated")

	return created, nil
}

func (e *AllocationEngine) allocateIngredient(ctx context.Context, run *domain.ProductionRun, ingredient domain.Ingredient, multiplier decimal.Decimal, now time.Time) ([]*domain.Allocation, error) {
	if err := ingredient.Material.Validate(); err != nil {
		return nil, err
	}

	switch {
	case ingredient.Quantity.IsNegative():
		return nil, &domain.ValidationError{
			Field:   "ingredient.quantity",
			Message: fmt.Sprintf("%s has negative quantity %s", ingredient.Material, ingredient.Quantity),
		}
	case ingredient.Quantity.IsZero():
		e.logger.Warn().
			Str("tenant_id", run.TenantID).
			Str("recipe_id", run.RecipeID).
			Str("material", ingredient.Material.String()).
			Msg("recipe ingredient has zero quantity, nothing allocated")
		return nil, nil
	}

	exists, err := e.stores.Recipes.MaterialExists(ctx, run.TenantID, ingredient.Material)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &domain.MaterialNotFoundError{Material: ingredient.Material}
	}

	required := ingredient.Quantity.Mul(multiplier)
	batches, err := e.stores.Batches.FindAvailableBatches(ctx, run.TenantID, ingredient.Material)
	if err != nil {
		return nil, err
	}

	draws, remaining := domain.PlanFEFO(batches, required)
	if remaining.IsPositive() {
		return nil, &domain.InsufficientStockError{
			Material:  ingredient.Material,
			Required:  required,
			Available: required.Sub(remaining),
		}
	}

	allocations := make([]*domain.Allocation, 0, len(draws))
	for _, draw := range draws {
		if err := e.stores.Batches.Reserve(ctx, run.TenantID, draw.Batch.ID, draw.Quantity); err != nil {
			return nil, err
		}

		allocation := &domain.Allocation{
			ID:                uuid.NewString(),
			TenantID:          run.TenantID,
			ProductionRunID:   run.ID,
			Material:          ingredient.Material,
			BatchID:           draw.Batch.ID,
			QuantityAllocated: draw.Quantity,
			Unit:              ingredient.Unit,
			UnitCost:          draw.Batch.UnitCost,
			Status:            domain.AllocationReserved,
			CreatedAt:         now,
		}
		if err := e.stores.Runs.CreateAllocation(ctx, allocation); err != nil {
			return nil, err
		}
		allocations = append(allocations, allocation)

		e.logger.Debug().
			Str("run_id", run.ID).
			Str("material", ingredient.Material.String()).
			Str("batch_id", draw.Batch.ID).
			Str("quantity", draw.Quantity.String()).
			Msg("batch reserved")
	}

	return allocations, nil
}
