package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/bakeflow/bakeflow-backend/pkg/errors"
	"github.com/bakeflow/bakeflow-backend/pkg/tenant"
)

// toAppError maps production errors onto HTTP-facing AppErrors.
// Unknown errors are returned unchanged and rendered as 500.
func toAppError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	var short *domain.InsufficientStockError
	if stderrors.As(err, &short) {
		return errors.Unprocessable("INSUFFICIENT_STOCK", short.Error()).WithDetails(map[string]string{
			"material":  short.Material.String(),
			"required":  short.Required.String(),
			"available": short.Available.String(),
			"shortage":  short.Shortage().String(),
		})
	}

	var over *domain.OverconsumptionError
	if stderrors.As(err, &over) {
		return errors.Unprocessable("OVERCONSUMPTION", over.Error()).WithDetails(map[string]string{
			"allocation_id": over.AllocationID,
			"allocated":     over.Allocated.String(),
			"consumed":      over.Consumed.String(),
		})
	}

	var invalid *domain.ValidationError
	if stderrors.As(err, &invalid) {
		return errors.Validation(map[string]string{invalid.Field: invalid.Message})
	}

	switch {
	case stderrors.Is(err, tenant.ErrNoTenantInContext):
		return errors.Forbidden("missing tenant context")
	case stderrors.Is(err, domain.ErrRunNotFound),
		stderrors.Is(err, domain.ErrBatchNotFound),
		stderrors.Is(err, domain.ErrRecipeNotFound),
		stderrors.Is(err, domain.ErrMaterialNotFound),
		stderrors.Is(err, domain.ErrAllocationNotFound):
		return errors.New("NOT_FOUND", err.Error(), http.StatusNotFound)
	case stderrors.Is(err, domain.ErrInvalidRunState),
		stderrors.Is(err, domain.ErrInvalidAllocationState):
		return errors.New("INVALID_STATE", err.Error(), http.StatusConflict)
	case stderrors.Is(err, domain.ErrConcurrencyConflict):
		return errors.New("CONCURRENCY_CONFLICT", "concurrent update detected, retry the request", http.StatusConflict)
	}

	if pqErr := database.MapPQError(err); pqErr != nil {
		return pqErr
	}
	return err
}
