package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const runColumns = `id, tenant_id, recipe_id, target_quantity, unit, multiplier, status,
	final_quantity, material_cost, overhead_cost, total_cost, output_batch_id, notes,
	created_at, updated_at, started_at, completed_at, cancelled_at`

const allocationColumns = `id, seq, tenant_id, production_run_id, raw_material_id, finished_product_id,
	batch_id, quantity_allocated, quantity_consumed, unit, unit_cost, status,
	created_at, consumed_at, released_at`

type runRow struct {
	ID             string              `db:"id"`
	TenantID       string              `db:"tenant_id"`
	RecipeID       string              `db:"recipe_id"`
	TargetQuantity decimal.Decimal     `db:"target_quantity"`
	Unit           string              `db:"unit"`
	Multiplier     decimal.Decimal     `db:"multiplier"`
	Status         string              `db:"status"`
	FinalQuantity  decimal.NullDecimal `db:"final_quantity"`
	MaterialCost   decimal.NullDecimal `db:"material_cost"`
	OverheadCost   decimal.NullDecimal `db:"overhead_cost"`
	TotalCost      decimal.NullDecimal `db:"total_cost"`
	OutputBatchID  *string             `db:"output_batch_id"`
	Notes          string              `db:"notes"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
	StartedAt      *time.Time          `db:"started_at"`
	CompletedAt    *time.Time          `db:"completed_at"`
	CancelledAt    *time.Time          `db:"cancelled_at"`
}

func (r runRow) toDomain() *domain.ProductionRun {
	return &domain.ProductionRun{
		ID:             r.ID,
		TenantID:       r.TenantID,
		RecipeID:       r.RecipeID,
		TargetQuantity: r.TargetQuantity,
		Unit:           r.Unit,
		Multiplier:     r.Multiplier,
		Status:         domain.RunStatus(r.Status),
		FinalQuantity:  decimalPtr(r.FinalQuantity),
		MaterialCost:   decimalPtr(r.MaterialCost),
		OverheadCost:   decimalPtr(r.OverheadCost),
		TotalCost:      decimalPtr(r.TotalCost),
		OutputBatchID:  r.OutputBatchID,
		Notes:          r.Notes,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		CancelledAt:    r.CancelledAt,
	}
}

type allocationRow struct {
	ID                string              `db:"id"`
	Seq               int64               `db:"seq"`
	TenantID          string              `db:"tenant_id"`
	ProductionRunID   string              `db:"production_run_id"`
	RawMaterialID     *string             `db:"raw_material_id"`
	FinishedProductID *string             `db:"finished_product_id"`
	BatchID           string              `db:"batch_id"`
	QuantityAllocated decimal.Decimal     `db:"quantity_allocated"`
	QuantityConsumed  decimal.NullDecimal `db:"quantity_consumed"`
	Unit              string              `db:"unit"`
	UnitCost          decimal.Decimal     `db:"unit_cost"`
	Status            string              `db:"status"`
	CreatedAt         time.Time           `db:"created_at"`
	ConsumedAt        *time.Time          `db:"consumed_at"`
	ReleasedAt        *time.Time          `db:"released_at"`
}

func (r allocationRow) toDomain() (*domain.Allocation, error) {
	material, err := domain.MaterialFromColumns(r.RawMaterialID, r.FinishedProductID)
	if err != nil {
		return nil, fmt.Errorf("allocation %s: %w", r.ID, err)
	}
	return &domain.Allocation{
		ID:                r.ID,
		TenantID:          r.TenantID,
		ProductionRunID:   r.ProductionRunID,
		Material:          material,
		BatchID:           r.BatchID,
		QuantityAllocated: r.QuantityAllocated,
		QuantityConsumed:  decimalPtr(r.QuantityConsumed),
		Unit:              r.Unit,
		UnitCost:          r.UnitCost,
		Status:            domain.AllocationStatus(r.Status),
		Seq:               r.Seq,
		CreatedAt:         r.CreatedAt,
		ConsumedAt:        r.ConsumedAt,
		ReleasedAt:        r.ReleasedAt,
	}, nil
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// RunRepository handles production run and allocation persistence
type RunRepository struct {
	db *database.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun inserts a production run
func (r *RunRepository) CreateRun(ctx context.Context, run *domain.ProductionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	query := `
		INSERT INTO production_runs (
			id, tenant_id, recipe_id, target_quantity, unit, multiplier, status, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		run.ID, run.TenantID, run.RecipeID, run.TargetQuantity, run.Unit,
		run.Multiplier, string(run.Status), run.Notes,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

// GetRun gets a run by ID
func (r *RunRepository) GetRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error) {
	return r.getRun(ctx, tenantID, runID, false)
}

// LockRun gets a run and locks its row until the transaction ends.
func (r *RunRepository) LockRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error) {
	return r.getRun(ctx, tenantID, runID, true)
}

func (r *RunRepository) getRun(ctx context.Context, tenantID, runID string, lock bool) (*domain.ProductionRun, error) {
	if !validID(runID) {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}

	query := `SELECT ` + runColumns + ` FROM production_runs WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}

	var row runRow
	if err := r.db.GetContext(ctx, &row, query, tenantID, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
		}
		return nil, translate(err)
	}
	return row.toDomain(), nil
}

// ListRuns returns runs newest first; an empty status matches every status.
func (r *RunRepository) ListRuns(ctx context.Context, tenantID string, status domain.RunStatus) ([]*domain.ProductionRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM production_runs
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, string(status)); err != nil {
		return nil, err
	}

	runs := make([]*domain.ProductionRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, row.toDomain())
	}
	return runs, nil
}

// UpdateRun writes the run's mutable fields.
func (r *RunRepository) UpdateRun(ctx context.Context, run *domain.ProductionRun) error {
	query := `
		UPDATE production_runs SET
			status = $3, final_quantity = $4, material_cost = $5, overhead_cost = $6,
			total_cost = $7, output_batch_id = $8, notes = $9,
			started_at = $10, completed_at = $11, cancelled_at = $12, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		run.TenantID, run.ID, string(run.Status),
		nullDecimal(run.FinalQuantity), nullDecimal(run.MaterialCost),
		nullDecimal(run.OverheadCost), nullDecimal(run.TotalCost),
		run.OutputBatchID, run.Notes, run.StartedAt, run.CompletedAt, run.CancelledAt,
	).Scan(&run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", run.ID, domain.ErrRunNotFound)
	}
	return translate(err)
}

// CreateAllocation inserts an allocation line
func (r *RunRepository) CreateAllocation(ctx context.Context, allocation *domain.Allocation) error {
	if allocation.ID == "" {
		allocation.ID = uuid.New().String()
	}
	rawID, finishedID := allocation.Material.Columns()

	query := `
		INSERT INTO production_allocations (
			id, tenant_id, production_run_id, raw_material_id, finished_product_id,
			batch_id, quantity_allocated, unit, unit_cost, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING seq, created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		allocation.ID, allocation.TenantID, allocation.ProductionRunID, rawID, finishedID,
		allocation.BatchID, allocation.QuantityAllocated, allocation.Unit, allocation.UnitCost,
		string(allocation.Status),
	).Scan(&allocation.Seq, &allocation.CreatedAt)
}

// GetAllocation gets an allocation by ID without locking it. Writers hold the
// run lock instead.
func (r *RunRepository) GetAllocation(ctx context.Context, tenantID, allocationID string) (*domain.Allocation, error) {
	if !validID(allocationID) {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, domain.ErrAllocationNotFound)
	}

	var row allocationRow
	query := `SELECT ` + allocationColumns + ` FROM production_allocations WHERE tenant_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &row, query, tenantID, allocationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("allocation %s: %w", allocationID, domain.ErrAllocationNotFound)
		}
		return nil, err
	}
	return row.toDomain()
}

// ListAllocations returns a run's allocations in the order they were made.
func (r *RunRepository) ListAllocations(ctx context.Context, tenantID, runID string) ([]*domain.Allocation, error) {
	if !validID(runID) {
		return []*domain.Allocation{}, nil
	}

	var rows []allocationRow
	query := `
		SELECT ` + allocationColumns + `
		FROM production_allocations
		WHERE tenant_id = $1 AND production_run_id = $2
		ORDER BY seq
	`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, runID); err != nil {
		return nil, err
	}

	allocations := make([]*domain.Allocation, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, nil
}

// UpdateAllocation writes status, consumption and settlement timestamps.
func (r *RunRepository) UpdateAllocation(ctx context.Context, allocation *domain.Allocation) error {
	query := `
		UPDATE production_allocations SET
			status = $3, quantity_consumed = $4, consumed_at = $5, released_at = $6
		WHERE tenant_id = $1 AND id = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		allocation.TenantID, allocation.ID, string(allocation.Status),
		nullDecimal(allocation.QuantityConsumed), allocation.ConsumedAt, allocation.ReleasedAt,
	)
	if err != nil {
		return translate(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("allocation %s: %w", allocation.ID, domain.ErrAllocationNotFound)
	}
	return nil
}
