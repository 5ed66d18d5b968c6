package service_test

import (
	"testing"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/internal/production/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, qty(want).Equal(got), "want %s, got %s", want, got)
}

func TestCalculateProductionCost(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "2"), ingredient(butterID, "1"))
	f.batch(flourID, "10", "3.50", nil)
	f.batch(butterID, "10", "4.00", nil)
	details := f.allocatedRun("1")

	cost, err := f.svc.CalculateProductionCost(f.ctx, details.Run.ID)
	require.NoError(t, err)

	assert.Equal(t, details.Run.ID, cost.RunID)
	assert.Equal(t, service.CostBasisCommitted, cost.Basis)
	assertDecimal(t, "11", cost.MaterialCost)
	assertDecimal(t, "20", cost.OverheadPercent)
	assertDecimal(t, "2.2", cost.OverheadCost)
	assertDecimal(t, "13.2", cost.TotalCost)
	assert.Nil(t, cost.CostPerUnit, "no final quantity yet")
}

func TestCalculateProductionCost_RecipeOverheadOverride(t *testing.T) {
	f := newFixture(t)
	r := f.recipe(ingredient(flourID, "2"))
	override := qty("12.5")
	r.OverheadPercent = &override
	f.store.AddRecipe(r)
	f.batch(flourID, "10", "4", nil)
	details := f.allocatedRun("1")

	cost, err := f.svc.CalculateProductionCost(f.ctx, details.Run.ID)
	require.NoError(t, err)
	assertDecimal(t, "8", cost.MaterialCost)
	assertDecimal(t, "1", cost.OverheadCost)
	assertDecimal(t, "9", cost.TotalCost)
}

func TestCalculateProductionCost_UsesSnapshotPerBatch(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "2"))
	f.batch(flourID, "1", "3.00", day("2025-05-01"))
	f.batch(flourID, "5", "5.00", day("2025-09-01"))
	details := f.allocatedRun("1")

	cost, err := f.svc.CalculateProductionCost(f.ctx, details.Run.ID)
	require.NoError(t, err)
	assertDecimal(t, "8", cost.MaterialCost)
}

func TestCalculateActualCost_UsesConsumedQuantity(t *testing.T) {
	f := newFixture(t)
	f.recipe(ingredient(flourID, "2"), ingredient(butterID, "1"))
	f.batch(flourID, "10", "3.50", nil)
	f.batch(butterID, "10", "4.00", nil)
	details := f.allocatedRun("1")

	require.NoError(t, f.svc.RecordConsumption(f.ctx, []service.ConsumptionEntry{
		{AllocationID: details.Allocations[0].ID, QuantityConsumed: qty("1")},
	}))

	actual, err := f.svc.CalculateActualCost(f.ctx, details.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, service.CostBasisActual, actual.Basis)
	// 1 × 3.50 consumed + 1 × 4.00 still reserved
	assertDecimal(t, "7.5", actual.MaterialCost)

	committed, err := f.svc.CalculateProductionCost(f.ctx, details.Run.ID)
	require.NoError(t, err)
	assertDecimal(t, "11", committed.MaterialCost)
}

func TestCalculateProductionCost_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CalculateProductionCost(f.ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestComputeCost(t *testing.T) {
	consumed := qty("0.5")
	allocations := []*domain.Allocation{
		{QuantityAllocated: qty("2"), UnitCost: qty("3.50"), Status: domain.AllocationReserved},
		{QuantityAllocated: qty("1"), UnitCost: qty("4.00"), Status: domain.AllocationConsumed, QuantityConsumed: &consumed},
		{QuantityAllocated: qty("7"), UnitCost: qty("9.99"), Status: domain.AllocationReleased},
	}

	tests := []struct {
		name      string
		basis     service.CostBasis
		final     *decimal.Decimal
		material  string
		total     string
		perUnit   string
		noPerUnit bool
	}{
		{name: "committed", basis: service.CostBasisCommitted, material: "11", total: "13.2", noPerUnit: true},
		{name: "actual", basis: service.CostBasisActual, material: "9", total: "10.8", noPerUnit: true},
		{name: "per unit", basis: service.CostBasisCommitted, final: decPtr("4"), material: "11", total: "13.2", perUnit: "3.3"},
		{name: "zero final quantity", basis: service.CostBasisCommitted, final: decPtr("0"), material: "11", total: "13.2", noPerUnit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service.ComputeCost(allocations, qty("20"), tt.final, tt.basis)
			assertDecimal(t, tt.material, got.MaterialCost)
			assertDecimal(t, tt.total, got.TotalCost)
			if tt.noPerUnit {
				assert.Nil(t, got.CostPerUnit)
				return
			}
			require.NotNil(t, got.CostPerUnit)
			assertDecimal(t, tt.perUnit, *got.CostPerUnit)
		})
	}
}

func TestComputeCost_NoAllocations(t *testing.T) {
	got := service.ComputeCost(nil, qty("20"), nil, service.CostBasisCommitted)
	assert.True(t, got.MaterialCost.IsZero())
	assert.True(t, got.TotalCost.IsZero())
}

func TestParseCostBasis(t *testing.T) {
	basis, err := service.ParseCostBasis("")
	require.NoError(t, err)
	assert.Equal(t, service.CostBasisCommitted, basis)

	basis, err = service.ParseCostBasis("actual")
	require.NoError(t, err)
	assert.Equal(t, service.CostBasisActual, basis)

	_, err = service.ParseCostBasis("forecast")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func decPtr(s string) *decimal.Decimal {
	d := qty(s)
	return &d
}
