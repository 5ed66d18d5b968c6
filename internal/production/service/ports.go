package service

import (
	"context"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/shopspring/decimal"
)

// UnitOfWork runs fn inside one transaction: commit when fn returns nil, rollback otherwise.
// Repositories called with the ctx handed to fn take part in that transaction.
type UnitOfWork interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// BatchStore persists material batches. FindAvailableBatches returns batches in FEFO
// order and locks them for the rest of the transaction.
type BatchStore interface {
	FindAvailableBatches(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error)
	ListByMaterial(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error)
	GetByID(ctx context.Context, tenantID, batchID string) (*domain.Batch, error)
	Create(ctx context.Context, batch *domain.Batch) error
	Reserve(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error
	Release(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error
	Consume(ctx context.Context, tenantID, batchID string, consumed, reserved decimal.Decimal) error
}

// RecipeStore reads recipes and the material catalogue.
type RecipeStore interface {
	GetRecipe(ctx context.Context, tenantID, recipeID string) (*domain.Recipe, error)
	GetIngredients(ctx context.Context, tenantID, recipeID string) ([]domain.Ingredient, error)
	// GetOverheadPercentage returns nil when the recipe has no override.
	GetOverheadPercentage(ctx context.Context, tenantID, recipeID string) (*decimal.Decimal, error)
	MaterialExists(ctx context.Context, tenantID string, material domain.MaterialRef) (bool, error)
}

// RunStore persists production runs and their allocations. LockRun locks the run
// row for the rest of the transaction; every writer of a run's allocations holds it.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.ProductionRun) error
	GetRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error)
	// ListRuns returns runs newest first; an empty status matches every status.
	ListRuns(ctx context.Context, tenantID string, status domain.RunStatus) ([]*domain.ProductionRun, error)
	LockRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error)
	UpdateRun(ctx context.Context, run *domain.ProductionRun) error
	CreateAllocation(ctx context.Context, allocation *domain.Allocation) error
	GetAllocation(ctx context.Context, tenantID, allocationID string) (*domain.Allocation, error)
	ListAllocations(ctx context.Context, tenantID, runID string) ([]*domain.Allocation, error)
	UpdateAllocation(ctx context.Context, allocation *domain.Allocation) error
}

// EventPublisher announces committed state changes. Implementations log failures
// instead of returning them.
type EventPublisher interface {
	RunPlanned(ctx context.Context, run *domain.ProductionRun)
	RunAllocated(ctx context.Context, run *domain.ProductionRun, allocations []*domain.Allocation)
	AllocationConsumed(ctx context.Context, allocation *domain.Allocation)
	RunCompleted(ctx context.Context, run *domain.ProductionRun, output *domain.Batch)
	RunCancelled(ctx context.Context, run *domain.ProductionRun, released int)
}

// Stores bundles the persistence collaborators shared by the production components.
type Stores struct {
	Batches BatchStore
	Recipes RecipeStore
	Runs    RunStore
	UoW     UnitOfWork
}

type noopPublisher struct{}

func (noopPublisher) RunPlanned(context.Context, *domain.ProductionRun)                         {}
func (noopPublisher) RunAllocated(context.Context, *domain.ProductionRun, []*domain.Allocation) {}
func (noopPublisher) AllocationConsumed(context.Context, *domain.Allocation)                    {}
func (noopPublisher) RunCompleted(context.Context, *domain.ProductionRun, *domain.Batch)        {}
func (noopPublisher) RunCancelled(context.Context, *domain.ProductionRun, int)                  {}
