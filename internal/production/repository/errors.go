package repository

import (
	"fmt"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/google/uuid"
)

// translate turns Postgres lock and serialization failures into
// domain.ErrConcurrencyConflict so callers can retry the transaction.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if database.IsRetryable(err) {
		return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
	}
	return err
}

// validID reports whether id can be compared against a UUID column. Anything
// else can never match a row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func materialColumn(kind domain.MaterialKind) (string, error) {
	switch kind {
	case domain.MaterialRaw:
		return "raw_material_id", nil
	case domain.MaterialFinished:
		return "finished_product_id", nil
	default:
		return "", &domain.ValidationError{Field: "material_kind", Message: fmt.Sprintf("unknown material kind %q", kind)}
	}
}
