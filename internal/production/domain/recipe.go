package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ingredient is one line of a recipe, quantity per recipe yield.
type Ingredient struct {
	Material MaterialRef     `json:"material"`
	Quantity decimal.Decimal `json:"quantity"`
	Unit     string          `json:"unit"`
}

// Recipe describes how to produce YieldQuantity of OutputProductID.
type Recipe struct {
	ID              string
	TenantID        string
	Name            string
	OutputProductID string
	YieldQuantity   decimal.Decimal
	YieldUnit       string
	// OverheadPercent is a percentage (20 means 20%). Nil uses the configured default.
	OverheadPercent *decimal.Decimal
	// ShelfLife of the output. Nil uses the configured default.
	ShelfLife   *time.Duration
	Ingredients []Ingredient
}
