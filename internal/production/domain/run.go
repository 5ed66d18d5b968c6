package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a production run.
type RunStatus string

const (
	RunPlanned    RunStatus = "PLANNED"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunCancelled  RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunCancelled
}

// ProductionRun is a planned or executed batch of production for one recipe.
type ProductionRun struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	RecipeID       string           `json:"recipe_id"`
	TargetQuantity decimal.Decimal  `json:"target_quantity"`
	Unit           string           `json:"unit"`
	Multiplier     decimal.Decimal  `json:"multiplier"`
	Status         RunStatus        `json:"status"`
	FinalQuantity  *decimal.Decimal `json:"final_quantity,omitempty"`
	MaterialCost   *decimal.Decimal `json:"material_cost,omitempty"`
	OverheadCost   *decimal.Decimal `json:"overhead_cost,omitempty"`
	TotalCost      *decimal.Decimal `json:"total_cost,omitempty"`
	OutputBatchID  *string          `json:"output_batch_id,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
}

// Start moves a PLANNED run to IN_PROGRESS. Other states are left alone.
func (r *ProductionRun) Start(at time.Time) bool {
	if r.Status != RunPlanned {
		return false
	}
	r.Status = RunInProgress
	r.StartedAt = &at
	r.UpdatedAt = at
	return true
}

// OutputBatchNumber formats the batch number of a run's finished goods:
// PR-<first 8 chars of the run id, upper case>-<yyyymmddHHMMSS>.
func OutputBatchNumber(runID string, at time.Time) string {
	short := strings.ReplaceAll(runID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("PR-%s-%s", strings.ToUpper(short), at.UTC().Format("20060102150405"))
}
