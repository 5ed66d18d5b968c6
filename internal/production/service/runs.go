package service

import (
	"context"
	"errors"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductionService is the entry point used by the transport layer. It embeds
// the four production components and adds run planning and batch receipt.
type ProductionService struct {
	*AllocationEngine
	*ConsumptionRecorder
	*CostCalculator
	*Coordinator
	component
}

// NewProductionService wires all production components over the same stores.
func NewProductionService(stores Stores, publisher EventPublisher, cfg config.ProductionConfig, log *logger.Logger, opts ...Option) *ProductionService {
	return &ProductionService{
		AllocationEngine:    NewAllocationEngine(stores, publisher, cfg, log, opts...),
		ConsumptionRecorder: NewConsumptionRecorder(stores, publisher, cfg, log, opts...),
		CostCalculator:      NewCostCalculator(stores, cfg, log, opts...),
		Coordinator:         NewCoordinator(stores, publisher, cfg, log, opts...),
		component:           newComponent("production", stores, publisher, cfg, log, opts),
	}
}

// PlanRequest asks for a new production run of TargetQuantity of a recipe's output.
type PlanRequest struct {
	RecipeID       string          `json:"recipe_id" validate:"required"`
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	Unit           string          `json:"unit"`
	Notes          string          `json:"notes" validate:"max=2000"`
	// DeferAllocation creates the run without reserving stock.
	DeferAllocation bool `json:"defer_allocation"`
}

// RunDetails is a run with its allocations.
type RunDetails struct {
	Run         *domain.ProductionRun `json:"run"`
	Allocations []*domain.Allocation  `json:"allocations"`
}

// PlanProductionRun creates a PLANNED run with multiplier = target ÷ recipe yield
// and, unless deferred, allocates its stock in the same transaction. When
// allocation fails no run is left behind.
func (s *ProductionService) PlanProductionRun(ctx context.Context, req PlanRequest) (*RunDetails, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if !req.TargetQuantity.IsPositive() {
		return nil, &domain.ValidationError{Field: "target_quantity", Message: "must be greater than zero"}
	}

	var details *RunDetails
	err = retryOnConflict(ctx, s.cfg.AllocationMaxRetries, s.cfg.AllocationRetryInterval, s.logger, func() error {
		return s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
			recipe, err := s.stores.Recipes.GetRecipe(ctx, tenantID, req.RecipeID)
			if err != nil {
				return err
			}
			if !recipe.YieldQuantity.IsPositive() {
				return &domain.ValidationError{Field: "recipe.yield_quantity", Message: "must be greater than zero"}
			}

			unit := req.Unit
			if unit == "" {
				unit = recipe.YieldUnit
			}
			now := s.clock()
			run := &domain.ProductionRun{
				ID:             uuid.NewString(),
				TenantID:       tenantID,
				RecipeID:       recipe.ID,
				TargetQuantity: req.TargetQuantity,
				Unit:           unit,
				Multiplier:     req.TargetQuantity.Div(recipe.YieldQuantity),
				Status:         domain.RunPlanned,
				Notes:          req.Notes,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := s.stores.Runs.CreateRun(ctx, run); err != nil {
				return err
			}

			details = &RunDetails{Run: run}
			if req.DeferAllocation {
				return nil
			}
			details.Allocations, err = s.AllocationEngine.allocateRun(ctx, run, run.Multiplier)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("run_id", details.Run.ID).
		Str("recipe_id", details.Run.RecipeID).
		Str("target_quantity", details.Run.TargetQuantity.String()).
		Msg("production run planned")

	s.publisher.RunPlanned(ctx, details.Run)
	if !req.DeferAllocation {
		s.publisher.RunAllocated(ctx, details.Run, details.Allocations)
	}
	return details, nil
}

// AllocateRun reserves stock for a run created with DeferAllocation, using the
// run's own recipe and multiplier.
func (s *ProductionService) AllocateRun(ctx context.Context, runID string) (*RunDetails, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var run *domain.ProductionRun
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		run, err = s.stores.Runs.GetRun(ctx, tenantID, runID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Allocate(ctx, run.ID, run.RecipeID, run.Multiplier); err != nil {
		return nil, err
	}
	return s.GetProductionRun(ctx, runID)
}

// GetProductionRun returns a run and its allocations.
func (s *ProductionService) GetProductionRun(ctx context.Context, runID string) (*RunDetails, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	details := &RunDetails{}
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		details.Run, err = s.stores.Runs.GetRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		details.Allocations, err = s.stores.Runs.ListAllocations(ctx, tenantID, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// ListProductionRuns returns the tenant's runs newest first. An empty status lists all.
func (s *ProductionService) ListProductionRuns(ctx context.Context, status domain.RunStatus) ([]*domain.ProductionRun, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var runs []*domain.ProductionRun
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		runs, err = s.stores.Runs.ListRuns(ctx, tenantID, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// ReceiveBatchRequest records goods received into stock.
type ReceiveBatchRequest struct {
	// BatchID makes receipt idempotent when the sender already assigned one.
	BatchID        string              `json:"batch_id,omitempty" validate:"omitempty,uuid"`
	MaterialKind   domain.MaterialKind `json:"material_kind" validate:"required,oneof=raw_material finished_product"`
	MaterialID     string              `json:"material_id" validate:"required"`
	BatchNumber    string              `json:"batch_number" validate:"required,max=100"`
	Quantity       decimal.Decimal     `json:"quantity"`
	Unit           string              `json:"unit" validate:"required,max=20"`
	UnitCost       decimal.Decimal     `json:"unit_cost"`
	ExpirationDate *time.Time          `json:"expiration_date,omitempty"`
}

// ReceiveBatch creates a batch of received stock. A repeated receipt with the
// same BatchID returns the existing batch.
func (s *ProductionService) ReceiveBatch(ctx context.Context, req ReceiveBatchRequest) (*domain.Batch, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	material := domain.MaterialRef{Kind: req.MaterialKind, ID: req.MaterialID}
	if err := material.Validate(); err != nil {
		return nil, err
	}
	if !req.Quantity.IsPositive() {
		return nil, &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}
	if req.UnitCost.IsNegative() {
		return nil, &domain.ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}

	var batch *domain.Batch
	var duplicate bool
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		if req.BatchID != "" {
			existing, err := s.stores.Batches.GetByID(ctx, tenantID, req.BatchID)
			if err == nil {
				batch, duplicate = existing, true
				return nil
			}
			if !errors.Is(err, domain.ErrBatchNotFound) {
				return err
			}
		}

		exists, err := s.stores.Recipes.MaterialExists(ctx, tenantID, material)
		if err != nil {
			return err
		}
		if !exists {
			return &domain.MaterialNotFoundError{Material: material}
		}

		batch = &domain.Batch{
			ID:             req.BatchID,
			TenantID:       tenantID,
			Material:       material,
			BatchNumber:    req.BatchNumber,
			OnHand:         req.Quantity,
			Reserved:       decimal.Zero,
			Unit:           req.Unit,
			UnitCost:       req.UnitCost,
			ExpirationDate: req.ExpirationDate,
		}
		if batch.ID == "" {
			batch.ID = uuid.NewString()
		}
		return s.stores.Batches.Create(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	if duplicate {
		s.logger.Debug().Str("batch_id", batch.ID).Msg("batch already received")
		return batch, nil
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("batch_id", batch.ID).
		Str("material", material.String()).
		Str("quantity", batch.OnHand.String()).
		Msg("batch received")
	return batch, nil
}

// GetBatch returns one batch.
func (s *ProductionService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var batch *domain.Batch
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		batch, err = s.stores.Batches.GetByID(ctx, tenantID, batchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// ListBatches returns every batch of a material in FEFO order, empty ones included.
func (s *ProductionService) ListBatches(ctx context.Context, material domain.MaterialRef) ([]*domain.Batch, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}
	if err := material.Validate(); err != nil {
		return nil, err
	}

	var batches []*domain.Batch
	err = s.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		batches, err = s.stores.Batches.ListByMaterial(ctx, tenantID, material)
		return err
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}
