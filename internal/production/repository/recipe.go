package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/database"
	"github.com/shopspring/decimal"
)

type recipeRow struct {
	ID              string              `db:"id"`
	TenantID        string              `db:"tenant_id"`
	Name            string              `db:"name"`
	OutputProductID string              `db:"output_product_id"`
	YieldQuantity   decimal.Decimal     `db:"yield_quantity"`
	YieldUnit       string              `db:"yield_unit"`
	OverheadPercent decimal.NullDecimal `db:"overhead_percent"`
	ShelfLifeHours  *int                `db:"shelf_life_hours"`
}

type ingredientRow struct {
	RawMaterialID     *string         `db:"raw_material_id"`
	FinishedProductID *string         `db:"finished_product_id"`
	Quantity          decimal.Decimal `db:"quantity"`
	Unit              string          `db:"unit"`
}

// RecipeRepository reads recipes and checks the material catalogue.
// Recipes are maintained elsewhere; this service never writes them.
type RecipeRepository struct {
	db *database.DB
}

// NewRecipeRepository creates a new recipe repository
func NewRecipeRepository(db *database.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// GetRecipe returns the recipe with its ingredients in recipe order.
func (r *RecipeRepository) GetRecipe(ctx context.Context, tenantID, recipeID string) (*domain.Recipe, error) {
	if !validID(recipeID) {
		return nil, &domain.RecipeNotFoundError{RecipeID: recipeID}
	}

	var row recipeRow
	query := `
		SELECT id, tenant_id, name, output_product_id, yield_quantity, yield_unit,
		       overhead_percent, shelf_life_hours
		FROM recipes
		WHERE tenant_id = $1 AND id = $2
	`
	if err := r.db.GetContext(ctx, &row, query, tenantID, recipeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, err
	}

	ingredients, err := r.ingredients(ctx, tenantID, recipeID)
	if err != nil {
		return nil, err
	}

	recipe := &domain.Recipe{
		ID:              row.ID,
		TenantID:        row.TenantID,
		Name:            row.Name,
		OutputProductID: row.OutputProductID,
		YieldQuantity:   row.YieldQuantity,
		YieldUnit:       row.YieldUnit,
		Ingredients:     ingredients,
	}
	if row.OverheadPercent.Valid {
		pct := row.OverheadPercent.Decimal
		recipe.OverheadPercent = &pct
	}
	if row.ShelfLifeHours != nil {
		shelfLife := time.Duration(*row.ShelfLifeHours) * time.Hour
		recipe.ShelfLife = &shelfLife
	}
	return recipe, nil
}

// GetIngredients returns the ingredient lines of a recipe.
func (r *RecipeRepository) GetIngredients(ctx context.Context, tenantID, recipeID string) ([]domain.Ingredient, error) {
	if err := r.exists(ctx, tenantID, recipeID); err != nil {
		return nil, err
	}
	return r.ingredients(ctx, tenantID, recipeID)
}

// GetOverheadPercentage returns the recipe's overhead override, nil when unset.
func (r *RecipeRepository) GetOverheadPercentage(ctx context.Context, tenantID, recipeID string) (*decimal.Decimal, error) {
	if !validID(recipeID) {
		return nil, &domain.RecipeNotFoundError{RecipeID: recipeID}
	}

	var pct decimal.NullDecimal
	query := `SELECT overhead_percent FROM recipes WHERE tenant_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &pct, query, tenantID, recipeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.RecipeNotFoundError{RecipeID: recipeID}
		}
		return nil, err
	}
	if !pct.Valid {
		return nil, nil
	}
	return &pct.Decimal, nil
}

// MaterialExists reports whether the tenant has the referenced material.
func (r *RecipeRepository) MaterialExists(ctx context.Context, tenantID string, material domain.MaterialRef) (bool, error) {
	var table string
	switch material.Kind {
	case domain.MaterialRaw:
		table = "raw_materials"
	case domain.MaterialFinished:
		table = "finished_products"
	default:
		return false, nil
	}
	if !validID(material.ID) {
		return false, nil
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE tenant_id = $1 AND id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, tenantID, material.ID); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *RecipeRepository) exists(ctx context.Context, tenantID, recipeID string) error {
	if !validID(recipeID) {
		return &domain.RecipeNotFoundError{RecipeID: recipeID}
	}

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM recipes WHERE tenant_id = $1 AND id = $2)`
	if err := r.db.GetContext(ctx, &exists, query, tenantID, recipeID); err != nil {
		return err
	}
	if !exists {
		return &domain.RecipeNotFoundError{RecipeID: recipeID}
	}
	return nil
}

func (r *RecipeRepository) ingredients(ctx context.Context, tenantID, recipeID string) ([]domain.Ingredient, error) {
	var rows []ingredientRow
	query := `
		SELECT raw_material_id, finished_product_id, quantity, unit
		FROM recipe_ingredients
		WHERE tenant_id = $1 AND recipe_id = $2
		ORDER BY position, id
	`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, recipeID); err != nil {
		return nil, err
	}

	ingredients := make([]domain.Ingredient, 0, len(rows))
	for _, row := range rows {
		material, err := domain.MaterialFromColumns(row.RawMaterialID, row.FinishedProductID)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", recipeID, err)
		}
		ingredients = append(ingredients, domain.Ingredient{
			Material: material,
			Quantity: row.Quantity,
			Unit:     row.Unit,
		})
	}
	return ingredients, nil
}
