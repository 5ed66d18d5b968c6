package service

import (
	"context"
	"fmt"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/config"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CostBasis selects which quantity is priced.
type CostBasis string

const (
	// CostBasisCommitted prices the allocated quantity of every non-released allocation.
	CostBasisCommitted CostBasis = "committed"
	// CostBasisActual prices the consumed quantity where consumption was recorded.
	CostBasisActual CostBasis = "actual"
)

// ParseCostBasis defaults to committed.
func ParseCostBasis(s string) (CostBasis, error) {
	switch CostBasis(s) {
	case "", CostBasisCommitted:
		return CostBasisCommitted, nil
	case CostBasisActual:
		return CostBasisActual, nil
	default:
		return "", &domain.ValidationError{Field: "basis", Message: fmt.Sprintf("unknown cost basis %q", s)}
	}
}

// CostBreakdown is the cost of a production run. CostPerUnit is nil while
// the run has no final quantity.
type CostBreakdown struct {
	RunID           string           `json:"run_id"`
	Basis           CostBasis        `json:"basis"`
	MaterialCost    decimal.Decimal  `json:"material_cost"`
	OverheadPercent decimal.Decimal  `json:"overhead_percent"`
	OverheadCost    decimal.Decimal  `json:"overhead_cost"`
	TotalCost       decimal.Decimal  `json:"total_cost"`
	FinalQuantity   *decimal.Decimal `json:"final_quantity,omitempty"`
	CostPerUnit     *decimal.Decimal `json:"cost_per_unit"`
}

// ComputeCost prices allocations at their unit cost snapshot. RELEASED
// allocations cost nothing.
func ComputeCost(allocations []*domain.Allocation, overheadPercent decimal.Decimal, finalQuantity *decimal.Decimal, basis CostBasis) CostBreakdown {
	material := decimal.Zero
	for _, a := range allocations {
		q, ok := costedQuantity(a, basis)
		if !ok {
			continue
		}
		material = material.Add(q.Mul(a.UnitCost))
	}

	overhead := material.Mul(overheadPercent).Div(hundred)
	breakdown := CostBreakdown{
		Basis:           basis,
		MaterialCost:    material,
		OverheadPercent: overheadPercent,
		OverheadCost:    overhead,
		TotalCost:       material.Add(overhead),
	}
	if finalQuantity != nil {
		q := *finalQuantity
		breakdown.FinalQuantity = &q
		if q.IsPositive() {
			perUnit := breakdown.TotalCost.Div(q)
			breakdown.CostPerUnit = &perUnit
		}
	}
	return breakdown
}

func costedQuantity(a *domain.Allocation, basis CostBasis) (decimal.Decimal, bool) {
	switch a.Status {
	case domain.AllocationReleased:
		return decimal.Zero, false
	case domain.AllocationConsumed:
		if basis == CostBasisActual && a.QuantityConsumed != nil {
			return *a.QuantityConsumed, true
		}
		return a.QuantityAllocated, true
	default:
		return a.QuantityAllocated, true
	}
}

// CostCalculator aggregates material and overhead cost of production runs.
type CostCalculator struct {
	component
}

// NewCostCalculator creates a new cost calculator
func NewCostCalculator(stores Stores, cfg config.ProductionConfig, log *logger.Logger, opts ...Option) *CostCalculator {
	return &CostCalculator{component: newComponent("cost", stores, nil, cfg, log, opts)}
}

// CalculateProductionCost returns the committed cost of a run. Safe at any status.
func (c *CostCalculator) CalculateProductionCost(ctx context.Context, runID string) (*CostBreakdown, error) {
	return c.Calculate(ctx, runID, CostBasisCommitted)
}

// CalculateActualCost returns the cost of what was actually consumed.
func (c *CostCalculator) CalculateActualCost(ctx context.Context, runID string) (*CostBreakdown, error) {
	return c.Calculate(ctx, runID, CostBasisActual)
}

// Calculate returns the run's cost on the given basis. It reads only.
func (c *CostCalculator) Calculate(ctx context.Context, runID string, basis CostBasis) (*CostBreakdown, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, err
	}

	var breakdown CostBreakdown
	err = c.stores.UoW.WithinTransaction(ctx, func(ctx context.Context) error {
		run, err := c.stores.Runs.GetRun(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		allocations, err := c.stores.Runs.ListAllocations(ctx, tenantID, runID)
		if err != nil {
			return err
		}
		override, err := c.stores.Recipes.GetOverheadPercentage(ctx, tenantID, run.RecipeID)
		if err != nil {
			return err
		}

		breakdown = ComputeCost(allocations, c.overheadPercent(override), run.FinalQuantity, basis)
		breakdown.RunID = run.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &breakdown, nil
}
