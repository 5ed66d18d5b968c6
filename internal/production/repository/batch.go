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

const batchColumns = `id, seq, tenant_id, raw_material_id, finished_product_id, batch_number,
	on_hand_quantity, reserved_quantity, unit, unit_cost, expiration_date,
	production_run_id, created_at, updated_at`

type batchRow struct {
	ID                string          `db:"id"`
	Seq               int64           `db:"seq"`
	TenantID          string          `db:"tenant_id"`
	RawMaterialID     *string         `db:"raw_material_id"`
	FinishedProductID *string         `db:"finished_product_id"`
	BatchNumber       string          `db:"batch_number"`
	OnHand            decimal.Decimal `db:"on_hand_quantity"`
	Reserved          decimal.Decimal `db:"reserved_quantity"`
	Unit              string          `db:"unit"`
	UnitCost          decimal.Decimal `db:"unit_cost"`
	ExpirationDate    *time.Time      `db:"expiration_date"`
	ProductionRunID   *string         `db:"production_run_id"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

func (r batchRow) toDomain() (*domain.Batch, error) {
	material, err := domain.MaterialFromColumns(r.RawMaterialID, r.FinishedProductID)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", r.ID, err)
	}
	return &domain.Batch{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Material:        material,
		BatchNumber:     r.BatchNumber,
		OnHand:          r.OnHand,
		Reserved:        r.Reserved,
		Unit:            r.Unit,
		UnitCost:        r.UnitCost,
		ExpirationDate:  r.ExpirationDate,
		ProductionRunID: r.ProductionRunID,
		Seq:             r.Seq,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func toBatches(rows []batchRow) ([]*domain.Batch, error) {
	batches := make([]*domain.Batch, 0, len(rows))
	for _, row := range rows {
		b, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

// BatchRepository handles material batch persistence
type BatchRepository struct {
	db *database.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// FindAvailableBatches returns the batches of a material with stock left to
// reserve, earliest expiry first, batches without expiry last. The rows stay
// locked until the surrounding transaction ends.
func (r *BatchRepository) FindAvailableBatches(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error) {
	column, err := materialColumn(material.Kind)
	if err != nil {
		return nil, err
	}
	if !validID(material.ID) {
		return []*domain.Batch{}, nil
	}

	query := `SELECT ` + batchColumns + `
		FROM material_batches
		WHERE tenant_id = $1 AND ` + column + ` = $2
		  AND on_hand_quantity - reserved_quantity > 0
		ORDER BY expiration_date ASC NULLS LAST, seq ASC, created_at ASC, id ASC
		FOR UPDATE`

	var rows []batchRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, material.ID); err != nil {
		return nil, translate(err)
	}
	return toBatches(rows)
}

// ListByMaterial lists every batch of a material in FEFO order, empty ones included.
func (r *BatchRepository) ListByMaterial(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error) {
	column, err := materialColumn(material.Kind)
	if err != nil {
		return nil, err
	}
	if !validID(material.ID) {
		return []*domain.Batch{}, nil
	}

	query := `SELECT ` + batchColumns + `
		FROM material_batches
		WHERE tenant_id = $1 AND ` + column + ` = $2
		ORDER BY expiration_date ASC NULLS LAST, seq ASC, created_at ASC, id ASC`

	var rows []batchRow
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, material.ID); err != nil {
		return nil, err
	}
	return toBatches(rows)
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, tenantID, batchID string) (*domain.Batch, error) {
	if !validID(batchID) {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
	}

	var row batchRow
	query := `SELECT ` + batchColumns + ` FROM material_batches WHERE tenant_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &row, query, tenantID, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
		}
		return nil, err
	}
	return row.toDomain()
}

// Create inserts a batch. Seq and timestamps are assigned by the database.
func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if err := batch.Material.Validate(); err != nil {
		return err
	}
	if err := batch.CheckInvariant(); err != nil {
		return &domain.ValidationError{Field: "quantity", Message: err.Error()}
	}
	rawID, finishedID := batch.Material.Columns()

	query := `
		INSERT INTO material_batches (
			id, tenant_id, raw_material_id, finished_product_id, batch_number,
			on_hand_quantity, reserved_quantity, unit, unit_cost, expiration_date, production_run_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq, created_at, updated_at
	`

	return r.db.QueryRowxContext(ctx, query,
		batch.ID, batch.TenantID, rawID, finishedID, batch.BatchNumber,
		batch.OnHand, batch.Reserved, batch.Unit, batch.UnitCost, batch.ExpirationDate, batch.ProductionRunID,
	).Scan(&batch.Seq, &batch.CreatedAt, &batch.UpdatedAt)
}

// Reserve moves qty of available stock into reserved. It only succeeds when the
// batch still has qty available.
func (r *BatchRepository) Reserve(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Message: "must be greater than zero"}
	}

	query := `
		UPDATE material_batches
		SET reserved_quantity = reserved_quantity + $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND on_hand_quantity - reserved_quantity >= $3
	`
	return r.guardedUpdate(ctx, tenantID, batchID, "reserve", query, qty)
}

// Release returns qty of reserved stock to available.
func (r *BatchRepository) Release(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error {
	query := `
		UPDATE material_batches
		SET reserved_quantity = reserved_quantity - $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND reserved_quantity >= $3
	`
	return r.guardedUpdate(ctx, tenantID, batchID, "release", query, qty)
}

// Consume removes consumed from on-hand and drops the whole reservation of reserved.
func (r *BatchRepository) Consume(ctx context.Context, tenantID, batchID string, consumed, reserved decimal.Decimal) error {
	if consumed.GreaterThan(reserved) {
		return fmt.Errorf("batch %s: consume %s exceeds reservation %s: %w", batchID, consumed, reserved, domain.ErrConcurrencyConflict)
	}

	query := `
		UPDATE material_batches
		SET on_hand_quantity = on_hand_quantity - $3,
		    reserved_quantity = reserved_quantity - $4,
		    updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND reserved_quantity >= $4 AND on_hand_quantity >= $3
	`
	return r.guardedUpdate(ctx, tenantID, batchID, "consume", query, consumed, reserved)
}

// guardedUpdate runs a conditional update. No affected row means either the
// batch is gone or its quantities changed underneath the caller.
func (r *BatchRepository) guardedUpdate(ctx context.Context, tenantID, batchID, op, query string, args ...any) error {
	if !validID(batchID) {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
	}

	result, err := r.db.ExecContext(ctx, query, append([]any{tenantID, batchID}, args...)...)
	if err != nil {
		return translate(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM material_batches WHERE tenant_id = $1 AND id = $2)`, tenantID, batchID); err != nil {
		return translate(err)
	}
	if !exists {
		return fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
	}
	return fmt.Errorf("%s batch %s: %w", op, batchID, domain.ErrConcurrencyConflict)
}
