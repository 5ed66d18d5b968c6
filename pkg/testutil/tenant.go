package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// tenantTables lists every tenant-owned table, children first.
var tenantTables = []string{
	"production_allocations",
	"production_runs",
	"material_batches",
	"recipe_ingredients",
	"recipes",
	"finished_products",
	"raw_materials",
}

// TestTenant represents a tenant created for testing
type TestTenant struct {
	ID   string
	Name string
	Slug string
}

// TenantManager tracks test tenants and removes their rows
type TenantManager struct {
	db      *sqlx.DB
	tenants []TestTenant
	mu      sync.Mutex
}

// NewTenantManager creates a new tenant manager for tests
func NewTenantManager(db *sqlx.DB) *TenantManager {
	return &TenantManager{
		db:      db,
		tenants: make([]TestTenant, 0),
	}
}

// CreateTenant registers a new tenant. Tenants share one schema and are
// separated by tenant_id and row level security, so nothing is created in
// the database until fixtures are inserted.
//
// Usage:
//
//	tm := testutil.NewTenantManager(db)
//	tenant := tm.CreateTenant("corner bakery")
//	ctx = testutil.WithTestTenant(ctx, tenant)
func (tm *TenantManager) CreateTenant(name string) *TestTenant {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t := TestTenant{
		ID:   uuid.New().String(),
		Name: name,
		Slug: strings.ToLower(strings.ReplaceAll(name, " ", "-")),
	}

	tm.tenants = append(tm.tenants, t)
	return &t
}

// DropTenant deletes every row owned by the tenant
func (tm *TenantManager) DropTenant(ctx context.Context, t *TestTenant) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := tm.deleteRows(ctx, t.ID); err != nil {
		return err
	}

	for i, tracked := range tm.tenants {
		if tracked.ID == t.ID {
			tm.tenants = append(tm.tenants[:i], tm.tenants[i+1:]...)
			break
		}
	}

	return nil
}

// Cleanup deletes the rows of all tenants created by this manager.
// Call this in TestMain or test cleanup.
func (tm *TenantManager) Cleanup(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	var lastErr error
	for _, t := range tm.tenants {
		if err := tm.deleteRows(ctx, t.ID); err != nil {
			lastErr = err
		}
	}

	tm.tenants = make([]TestTenant, 0)
	return lastErr
}

func (tm *TenantManager) deleteRows(ctx context.Context, tenantID string) error {
	// output batches are referenced by runs and runs by batches
	if _, err := tm.db.ExecContext(ctx, "UPDATE production_runs SET output_batch_id = NULL WHERE tenant_id = $1", tenantID); err != nil {
		return fmt.Errorf("failed to detach output batches: %w", err)
	}
	for _, table := range tenantTables {
		if _, err := tm.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1", table), tenantID); err != nil {
			return fmt.Errorf("failed to delete tenant rows from %s: %w", table, err)
		}
	}
	return nil
}

// WithTestTenant creates a context with tenant information for testing.
// This is the primary way to set up tenant context in tests.
func WithTestTenant(ctx context.Context, t *TestTenant) context.Context {
	return tenant.WithTenantContext(ctx, t.ID, t.Slug)
}

// WithTestTenantValues creates a context with custom tenant values.
// Useful for testing error cases or edge conditions.
func WithTestTenantValues(ctx context.Context, id, slug string) context.Context {
	return tenant.WithTenantContext(ctx, id, slug)
}
