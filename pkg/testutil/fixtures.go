package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// MaterialFixture represents a raw material or finished product row
type MaterialFixture struct {
	ID   string
	Name string
	Unit string
}

// IngredientFixture is one recipe line. Exactly one material ID is set.
type IngredientFixture struct {
	RawMaterialID     *string
	FinishedProductID *string
	Quantity          decimal.Decimal
	Unit              string
}

// RecipeFixture represents test recipe data
type RecipeFixture struct {
	ID              string
	Name            string
	OutputProductID string
	YieldQuantity   decimal.Decimal
	YieldUnit       string
	OverheadPercent *decimal.Decimal
	ShelfLifeHours  *int
	Ingredients     []IngredientFixture
}

// FixtureFactory inserts catalogue rows the production service only reads.
// It writes through the owner connection, so row level security does not apply.
type FixtureFactory struct {
	db       *sqlx.DB
	mu       sync.Mutex
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory(db *sqlx.DB) *FixtureFactory {
	return &FixtureFactory{db: db}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequence++
	return f.sequence
}

// RawMaterial inserts a raw material for the tenant
func (f *FixtureFactory) RawMaterial(t *testing.T, ctx context.Context, tenantID, name string) MaterialFixture {
	t.Helper()
	return f.material(t, ctx, "raw_materials", tenantID, name, "kg")
}

// FinishedProduct inserts a finished product for the tenant
func (f *FixtureFactory) FinishedProduct(t *testing.T, ctx context.Context, tenantID, name string) MaterialFixture {
	t.Helper()
	return f.material(t, ctx, "finished_products", tenantID, name, "pcs")
}

func (f *FixtureFactory) material(t *testing.T, ctx context.Context, table, tenantID, name, unit string) MaterialFixture {
	t.Helper()
	if name == "" {
		name = fmt.Sprintf("Material %d", f.nextSeq())
	}

	m := MaterialFixture{ID: uuid.New().String(), Name: name, Unit: unit}
	query := fmt.Sprintf("INSERT INTO %s (id, tenant_id, name, unit) VALUES ($1, $2, $3, $4)", table)
	if _, err := f.db.ExecContext(ctx, query, m.ID, tenantID, m.Name, m.Unit); err != nil {
		t.Fatalf("failed to insert %s fixture: %v", table, err)
	}
	return m
}

// Recipe inserts a recipe producing outputProductID and its ingredient lines.
// Defaults to a yield of 1 with no overhead or shelf-life override.
func (f *FixtureFactory) Recipe(t *testing.T, ctx context.Context, tenantID, outputProductID string, opts ...func(*RecipeFixture)) RecipeFixture {
	t.Helper()

	recipe := RecipeFixture{
		ID:              uuid.New().String(),
		Name:            fmt.Sprintf("Recipe %d", f.nextSeq()),
		OutputProductID: outputProductID,
		YieldQuantity:   decimal.NewFromInt(1),
		YieldUnit:       "pcs",
	}
	for _, opt := range opts {
		opt(&recipe)
	}

	_, err := f.db.ExecContext(ctx, `
		INSERT INTO recipes (id, tenant_id, name, output_product_id, yield_quantity, yield_unit, overhead_percent, shelf_life_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, recipe.ID, tenantID, recipe.Name, recipe.OutputProductID, recipe.YieldQuantity, recipe.YieldUnit,
		nullableDecimal(recipe.OverheadPercent), recipe.ShelfLifeHours)
	if err != nil {
		t.Fatalf("failed to insert recipe fixture: %v", err)
	}

	for i, ing := range recipe.Ingredients {
		_, err := f.db.ExecContext(ctx, `
			INSERT INTO recipe_ingredients (id, tenant_id, recipe_id, raw_material_id, finished_product_id, quantity, unit, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), tenantID, recipe.ID, ing.RawMaterialID, ing.FinishedProductID, ing.Quantity, ing.Unit, i)
		if err != nil {
			t.Fatalf("failed to insert recipe ingredient fixture: %v", err)
		}
	}

	return recipe
}

// WithIngredient adds a raw material line with quantity per recipe yield
func WithIngredient(rawMaterialID, quantity string) func(*RecipeFixture) {
	return func(r *RecipeFixture) {
		id := rawMaterialID
		r.Ingredients = append(r.Ingredients, IngredientFixture{
			RawMaterialID: &id,
			Quantity:      decimal.RequireFromString(quantity),
			Unit:          "kg",
		})
	}
}

// WithProductIngredient adds a finished product line, e.g. a dough made in an earlier run
func WithProductIngredient(finishedProductID, quantity string) func(*RecipeFixture) {
	return func(r *RecipeFixture) {
		id := finishedProductID
		r.Ingredients = append(r.Ingredients, IngredientFixture{
			FinishedProductID: &id,
			Quantity:          decimal.RequireFromString(quantity),
			Unit:              "pcs",
		})
	}
}

// WithYield sets the recipe yield
func WithYield(quantity, unit string) func(*RecipeFixture) {
	return func(r *RecipeFixture) {
		r.YieldQuantity = decimal.RequireFromString(quantity)
		r.YieldUnit = unit
	}
}

// WithOverhead sets the recipe's overhead percentage override
func WithOverhead(percent string) func(*RecipeFixture) {
	return func(r *RecipeFixture) {
		pct := decimal.RequireFromString(percent)
		r.OverheadPercent = &pct
	}
}

// WithShelfLifeHours sets the shelf life of the recipe's output
func WithShelfLifeHours(hours int) func(*RecipeFixture) {
	return func(r *RecipeFixture) {
		r.ShelfLifeHours = &hours
	}
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
