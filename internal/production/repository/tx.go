package repository

import (
	"context"

	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
)

// TxManager runs units of work in a tenant-scoped Postgres transaction.
type TxManager struct {
	db *database.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *database.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTransaction runs fn with row level security set to the tenant in ctx.
// Nested calls join the outer transaction.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return err
	}
	return translate(m.db.WithTenantRLS(ctx, tenantID, fn))
}
