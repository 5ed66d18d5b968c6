package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/google/uuid"
)

// RunRepository is the in-memory production run and allocation store.
type RunRepository struct {
	s *Store
}

// CreateRun stores a new production run
func (r *RunRepository) CreateRun(ctx context.Context, run *domain.ProductionRun) error {
	defer r.s.lock(ctx)()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, exists := r.s.state.runs[run.ID]; exists {
		return fmt.Errorf("production run %s already exists", run.ID)
	}
	now := r.s.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	r.s.state.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun gets a production run by ID
func (r *RunRepository) GetRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error) {
	defer r.s.lock(ctx)()

	run, ok := r.s.state.runs[runID]
	if !ok || run.TenantID != tenantID {
		return nil, fmt.Errorf("production run %s: %w", runID, domain.ErrRunNotFound)
	}
	return cloneRun(run), nil
}

// ListRuns returns the tenant's runs newest first, optionally filtered by status
func (r *RunRepository) ListRuns(ctx context.Context, tenantID string, status domain.RunStatus) ([]*domain.ProductionRun, error) {
	defer r.s.lock(ctx)()

	var runs []*domain.ProductionRun
	for _, run := range r.s.state.runs {
		if run.TenantID != tenantID || (status != "" && run.Status != status) {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})
	return runs, nil
}

// LockRun is GetRun; the store lock already serialises transactions.
func (r *RunRepository) LockRun(ctx context.Context, tenantID, runID string) (*domain.ProductionRun, error) {
	return r.GetRun(ctx, tenantID, runID)
}

// UpdateRun replaces a stored production run
func (r *RunRepository) UpdateRun(ctx context.Context, run *domain.ProductionRun) error {
	defer r.s.lock(ctx)()

	stored, ok := r.s.state.runs[run.ID]
	if !ok || stored.TenantID != run.TenantID {
		return fmt.Errorf("production run %s: %w", run.ID, domain.ErrRunNotFound)
	}
	run.UpdatedAt = r.s.now()
	r.s.state.runs[run.ID] = cloneRun(run)
	return nil
}

// CreateAllocation stores a new allocation
func (r *RunRepository) CreateAllocation(ctx context.Context, allocation *domain.Allocation) error {
	defer r.s.lock(ctx)()

	if allocation.ID == "" {
		allocation.ID = uuid.NewString()
	}
	if run, ok := r.s.state.runs[allocation.ProductionRunID]; !ok || run.TenantID != allocation.TenantID {
		return fmt.Errorf("production run %s: %w", allocation.ProductionRunID, domain.ErrRunNotFound)
	}
	allocation.Seq = r.s.nextSeq()
	if allocation.CreatedAt.IsZero() {
		allocation.CreatedAt = r.s.now()
	}
	r.s.state.allocations[allocation.ID] = cloneAllocation(allocation)
	return nil
}

// GetAllocation gets an allocation by ID
func (r *RunRepository) GetAllocation(ctx context.Context, tenantID, allocationID string) (*domain.Allocation, error) {
	defer r.s.lock(ctx)()

	a, ok := r.s.state.allocations[allocationID]
	if !ok || a.TenantID != tenantID {
		return nil, fmt.Errorf("allocation %s: %w", allocationID, domain.ErrAllocationNotFound)
	}
	return cloneAllocation(a), nil
}

// ListAllocations returns a run's allocations in creation order
func (r *RunRepository) ListAllocations(ctx context.Context, tenantID, runID string) ([]*domain.Allocation, error) {
	defer r.s.lock(ctx)()

	var allocations []*domain.Allocation
	for _, a := range r.s.state.allocations {
		if a.TenantID == tenantID && a.ProductionRunID == runID {
			allocations = append(allocations, cloneAllocation(a))
		}
	}
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Seq < allocations[j].Seq
	})
	return allocations, nil
}

// UpdateAllocation replaces a stored allocation
func (r *RunRepository) UpdateAllocation(ctx context.Context, allocation *domain.Allocation) error {
	defer r.s.lock(ctx)()

	stored, ok := r.s.state.allocations[allocation.ID]
	if !ok || stored.TenantID != allocation.TenantID {
		return fmt.Errorf("allocation %s: %w", allocation.ID, domain.ErrAllocationNotFound)
	}
	r.s.state.allocations[allocation.ID] = cloneAllocation(allocation)
	return nil
}
