package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate_FEFOAcrossBatches(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "2"))
	december := f.batch(flourID, "1.5", "3.50", day("2025-12-31"))
	june := f.batch(flourID, "1", "4.00", day("2025-06-30"))
	run := f.plannedRun("1")

	allocations, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	require.NoError(t, err)

	require.Len(t, allocations, 2)
	assert.Equal(t, june.ID, allocations[0].BatchID)
	assert.True(t, allocations[0].QuantityAllocated.Equal(qty("1")))
	assert.True(t, allocations[0].UnitCost.Equal(qty("4.00")))
	assert.Equal(t, december.ID, allocations[1].BatchID)
	assert.True(t, allocations[1].QuantityAllocated.Equal(qty("1")))
	for _, a := range allocations {
		assert.Equal(t, domain.AllocationReserved, a.Status)
		assert.Equal(t, run.ID, a.ProductionRunID)
	}

	assert.True(t, f.reload(june).Reserved.Equal(qty("1")))
	assert.True(t, f.reload(december).Reserved.Equal(qty("1")))
	assert.Equal(t, 1, f.events.count("allocated"))
}

func TestAllocate_SumMatchesRequirementPerIngredient(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "0.75"), ingredient(butterID, "0.125"))
	for i := 0; i < 4; i++ {
		f.batch(flourID, "0.4", "1.20", day(fmt.Sprintf("2025-0%d-01", i+1)))
	}
	f.batch(butterID, "10", "8.00", nil)
	run := f.plannedRun("3")

	allocations, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, run.Multiplier)
	require.NoError(t, err)

	sums := map[string]decimal.Decimal{}
	for _, a := range allocations {
		sums[a.Material.ID] = sums[a.Material.ID].Add(a.QuantityAllocated)
	}
	assert.True(t, sums[flourID].Equal(qty("2.25")), "flour allocated %s", sums[flourID])
	assert.True(t, sums[butterID].Equal(qty("0.375")), "butter allocated %s", sums[butterID])
}

func TestAllocate_InsufficientStockLeavesNoState(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "2"))
	a := f.batch(flourID, "1", "3.50", day("2025-06-30"))
	b := f.batch(flourID, "0.5", "3.50", day("2025-07-30"))
	run := f.plannedRun("1")

	_, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))

	var short *domain.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, domain.RawMaterial(flourID), short.Material)
	assert.True(t, short.Required.Equal(qty("2")))
	assert.True(t, short.Available.Equal(qty("1.5")))
	assert.True(t, short.Shortage().Equal(qty("0.5")))

	assert.Empty(t, f.allocations(run.ID))
	assert.True(t, f.reload(a).Reserved.IsZero())
	assert.True(t, f.reload(b).Reserved.IsZero())
	assert.Zero(t, f.events.count("allocated"))
}

func TestAllocate_AllOrNothingAcrossIngredients(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"), ingredient(butterID, "1"))
	flour := f.batch(flourID, "5", "1", nil)
	f.batch(butterID, "0.5", "8", nil)
	run := f.plannedRun("1")

	_, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	assert.True(t, f.reload(flour).Reserved.IsZero(), "flour reservation must be rolled back")
	assert.Empty(t, f.allocations(run.ID))
}

func TestAllocate_ZeroQuantityIngredientIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"), ingredient(butterID, "0"))
	f.batch(flourID, "5", "1", nil)
	run := f.plannedRun("1")

	allocations, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	assert.Equal(t, flourID, allocations[0].Material.ID)
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name        string
		ingredients []domain.Ingredient
		multiplier  string
		wantErr     error
	}{
		{
			name:        "zero multiplier",
			ingredients: []domain.Ingredient{ingredient(flourID, "1")},
			multiplier:  "0",
			wantErr:     domain.ErrValidation,
		},
		{
			name:        "negative ingredient quantity",
			ingredients: []domain.Ingredient{ingredient(flourID, "-1")},
			multiplier:  "1",
			wantErr:     domain.ErrValidation,
		},
		{
			name:        "unknown material",
			ingredients: []domain.Ingredient{ingredient("yeast", "1")},
			multiplier:  "1",
			wantErr:     domain.ErrMaterialNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.recipe(tt.ingredients...)
			f.batch(flourID, "5", "1", nil)
			run := f.plannedRun("1")

			_, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty(tt.multiplier))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.allocations(run.ID))
		})
	}
}

func TestAllocate_RecipeNotFound(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	run := f.plannedRun("1")
	f.store.AddRecipe(&domain.Recipe{ID: breadRecipeID, TenantID: otherTenantID, YieldQuantity: qty("1")})

	_, err := f.svc.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	var notFound *domain.RecipeNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, breadRecipeID, notFound.RecipeID)
}

func TestAllocate_RejectsSecondAllocationAndTerminalRuns(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	f.batch(flourID, "10", "1", nil)
	details := f.allocatedRun("1")

	_, err := f.svc.Allocate(f.ctx, details.Run.ID, breadRecipeID, qty("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidRunState)

	require.NoError(t, f.svc.CancelProductionRun(f.ctx, details.Run.ID))
	_, err = f.svc.Allocate(f.ctx, details.Run.ID, breadRecipeID, qty("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidRunState)
}

func TestAllocate_RequiresTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Allocate(context.Background(), "run", breadRecipeID, qty("1"))
	assert.ErrorIs(t, err, tenant.ErrNoTenantInContext)
}

func TestAllocate_ConcurrentRunsNeverOverReserve(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	batch := f.batch(flourID, "1", "3.50", nil)
	first := f.plannedRun("1")
	second := f.plannedRun("1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, run := range []*domain.ProductionRun{first, second} {
		wg.Add(1)
		go func(i int, runID string) {
			defer wg.Done()
			_, errs[i] = f.svc.Allocate(f.ctx, runID, breadRecipeID, qty("1"))
		}(i, run.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	got := f.reload(batch)
	assert.True(t, got.Reserved.Equal(qty("1")))
	assert.NoError(t, got.CheckInvariant())
}

func TestAllocate_ManyConcurrentRuns(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	f.batch(flourID, "2", "1", day("2025-05-01"))
	f.batch(flourID, "3", "1", day("2025-06-01"))

	runs := make([]*domain.ProductionRun, 12)
	for i := range runs {
		runs[i] = f.plannedRun("1")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, run := range runs {
		wg.Add(1)
		go func(runID string) {
			defer wg.Done()
			if _, err := f.svc.Allocate(f.ctx, runID, breadRecipeID, qty("1")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(run.ID)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	batches, err := f.svc.ListBatches(f.ctx, domain.RawMaterial(flourID))
	require.NoError(t, err)
	for _, b := range batches {
		assert.NoError(t, b.CheckInvariant())
		assert.True(t, b.Available().IsZero())
	}
}

// flakyBatches fails the first n reservations with a concurrency conflict.
type flakyBatches struct {
	service.BatchStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *flakyBatches) Reserve(ctx context.Context, tenantID, batchID string, q decimal.Decimal) error {
	b.mu.Lock()
	b.calls++
	fail := b.failures > 0
	if fail {
		b.failures--
	}
	b.mu.Unlock()

	if fail {
		return fmt.Errorf("reserve %s: %w", batchID, domain.ErrConcurrencyConflict)
	}
	return b.BatchStore.Reserve(ctx, tenantID, batchID, q)
}

func TestAllocate_RetriesConcurrencyConflicts(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	batch := f.batch(flourID, "5", "1", nil)
	run := f.plannedRun("1")

	flaky := &flakyBatches{BatchStore: f.stores.Batches, failures: 2}
	stores := f.stores
	stores.Batches = flaky
	engine := service.NewAllocationEngine(stores, f.events, f.cfg, logger.Nop())

	allocations, err := engine.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	require.NoError(t, err)
	assert.Len(t, allocations, 1)
	assert.Equal(t, 3, flaky.calls)
	assert.True(t, f.reload(batch).Reserved.Equal(qty("1")))
	assert.Len(t, f.allocations(run.ID), 1)
}

func TestAllocate_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "1"))
	batch := f.batch(flourID, "5", "1", nil)
	run := f.plannedRun("1")

	flaky := &flakyBatches{BatchStore: f.stores.Batches, failures: 100}
	stores := f.stores
	stores.Batches = flaky
	engine := service.NewAllocationEngine(stores, f.events, f.cfg, logger.Nop())

	_, err := engine.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))

	var concurrencyErr *domain.ConcurrencyError
	require.ErrorAs(t, err, &concurrencyErr)
	assert.Equal(t, f.cfg.AllocationMaxRetries+1, concurrencyErr.Attempts)
	assert.True(t, errors.Is(err, domain.ErrConcurrencyConflict))
	assert.Equal(t, f.cfg.AllocationMaxRetries+1, flaky.calls)
	assert.True(t, f.reload(batch).Reserved.IsZero())
}

func TestAllocate_DataErrorsAreNotRetried(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "10"))
	f.batch(flourID, "5", "1", nil)
	run := f.plannedRun("1")

	flaky := &flakyBatches{BatchStore: f.stores.Batches}
	stores := f.stores
	stores.Batches = flaky
	engine := service.NewAllocationEngine(stores, f.events, f.cfg, logger.Nop())

	_, err := engine.Allocate(f.ctx, run.ID, breadRecipeID, qty("1"))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Zero(t, flaky.calls)
}
