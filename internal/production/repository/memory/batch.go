package memory

import (
	"context"
	"fmt"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchRepository is the in-memory batch store.
type BatchRepository struct {
	s *Store
}

// FindAvailableBatches returns the tenant's batches of material with stock left, FEFO ordered.
func (r *BatchRepository) FindAvailableBatches(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error) {
	defer r.s.lock(ctx)()

	var batches []*domain.Batch
	for _, b := range r.s.state.batches {
		if b.TenantID == tenantID && b.Material == material && b.Available().IsPositive() {
			batches = append(batches, cloneBatch(b))
		}
	}
	domain.SortFEFO(batches)
	return batches, nil
}

// ListByMaterial returns every batch of material, FEFO ordered.
func (r *BatchRepository) ListByMaterial(ctx context.Context, tenantID string, material domain.MaterialRef) ([]*domain.Batch, error) {
	defer r.s.lock(ctx)()

	var batches []*domain.Batch
	for _, b := range r.s.state.batches {
		if b.TenantID == tenantID && b.Material == material {
			batches = append(batches, cloneBatch(b))
		}
	}
	domain.SortFEFO(batches)
	return batches, nil
}

// GetByID gets a batch by ID
func (r *BatchRepository) GetByID(ctx context.Context, tenantID, batchID string) (*domain.Batch, error) {
	defer r.s.lock(ctx)()

	b, err := r.get(tenantID, batchID)
	if err != nil {
		return nil, err
	}
	return cloneBatch(b), nil
}

// Create stores a new batch
func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	defer r.s.lock(ctx)()

	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if _, exists := r.s.state.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	if err := batch.Material.Validate(); err != nil {
		return err
	}
	if err := batch.CheckInvariant(); err != nil {
		return err
	}

	now := r.s.now()
	batch.Seq = r.s.nextSeq()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	r.s.state.batches[batch.ID] = cloneBatch(batch)
	return nil
}

// Reserve increments the reserved quantity when enough is available.
func (r *BatchRepository) Reserve(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error {
	return r.mutate(ctx, tenantID, batchID, func(b *domain.Batch) error {
		return b.Reserve(qty)
	})
}

// Release decrements the reserved quantity. On-hand is unchanged.
func (r *BatchRepository) Release(ctx context.Context, tenantID, batchID string, qty decimal.Decimal) error {
	return r.mutate(ctx, tenantID, batchID, func(b *domain.Batch) error {
		return b.Release(qty)
	})
}

// Consume decrements on-hand by consumed and reserved by reserved.
func (r *BatchRepository) Consume(ctx context.Context, tenantID, batchID string, consumed, reserved decimal.Decimal) error {
	return r.mutate(ctx, tenantID, batchID, func(b *domain.Batch) error {
		return b.Consume(consumed, reserved)
	})
}

func (r *BatchRepository) mutate(ctx context.Context, tenantID, batchID string, fn func(*domain.Batch) error) error {
	defer r.s.lock(ctx)()

	stored, err := r.get(tenantID, batchID)
	if err != nil {
		return err
	}
	updated := cloneBatch(stored)
	if err := fn(updated); err != nil {
		return err
	}
	updated.UpdatedAt = r.s.now()
	r.s.state.batches[batchID] = updated
	return nil
}

func (r *BatchRepository) get(tenantID, batchID string) (*domain.Batch, error) {
	b, ok := r.s.state.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return nil, fmt.Errorf("batch %s: %w", batchID, domain.ErrBatchNotFound)
	}
	return b, nil
}
