package memory

import (
	"context"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/shopspring/decimal"
)

// RecipeRepository is the in-memory recipe and material catalogue.
type RecipeRepository struct {
	s *Store
}

// GetRecipe returns the recipe with its ingredients.
func (r *RecipeRepository) GetRecipe(ctx context.Context, tenantID, recipeID string) (*domain.Recipe, error) {
	defer r.s.lock(ctx)()

	recipe, ok := r.s.state.recipes[recipeID]
	if !ok || recipe.TenantID != tenantID {
		return nil, &domain.RecipeNotFoundError{RecipeID: recipeID}
	}
	return cloneRecipe(recipe), nil
}

// GetIngredients returns the ingredient lines of a recipe.
func (r *RecipeRepository) GetIngredients(ctx context.Context, tenantID, recipeID string) ([]domain.Ingredient, error) {
	recipe, err := r.GetRecipe(ctx, tenantID, recipeID)
	if err != nil {
		return nil, err
	}
	return recipe.Ingredients, nil
}

// GetOverheadPercentage returns the recipe's overhead override, nil when unset.
func (r *RecipeRepository) GetOverheadPercentage(ctx context.Context, tenantID, recipeID string) (*decimal.Decimal, error) {
	recipe, err := r.GetRecipe(ctx, tenantID, recipeID)
	if err != nil {
		return nil, err
	}
	return recipe.OverheadPercent, nil
}

// MaterialExists reports whether the tenant has the referenced material.
func (r *RecipeRepository) MaterialExists(ctx context.Context, tenantID string, material domain.MaterialRef) (bool, error) {
	defer r.s.lock(ctx)()

	var owner string
	var ok bool
	switch material.Kind {
	case domain.MaterialRaw:
		owner, ok = r.s.state.rawMaterials[material.ID]
	case domain.MaterialFinished:
		owner, ok = r.s.state.finishedProducts[material.ID]
	}
	return ok && owner == tenantID, nil
}
