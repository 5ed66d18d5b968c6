package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPlanFEFO_DrawsEarliestExpiryFirst(t *testing.T) {
	december := &Batch{ID: "dec", OnHand: qty("1.5"), Reserved: decimal.Zero, ExpirationDate: date("2025-12-31"), Seq: 1}
	june := &Batch{ID: "jun", OnHand: qty("1"), Reserved: decimal.Zero, ExpirationDate: date("2025-06-30"), Seq: 2}

	draws, remaining := PlanFEFO([]*Batch{december, june}, qty("2"))

	assert.True(t, remaining.IsZero())
	require.Len(t, draws, 2)
	assert.Equal(t, "jun", draws[0].Batch.ID)
	assert.True(t, draws[0].Quantity.Equal(qty("1")))
	assert.Equal(t, "dec", draws[1].Batch.ID)
	assert.True(t, draws[1].Quantity.Equal(qty("1")))
}

func TestPlanFEFO_ReportsShortage(t *testing.T) {
	batches := []*Batch{
		{ID: "a", OnHand: qty("1"), Reserved: decimal.Zero, ExpirationDate: date("2025-01-01")},
		{ID: "b", OnHand: qty("1"), Reserved: qty("0.5"), ExpirationDate: date("2025-02-01")},
	}

	draws, remaining := PlanFEFO(batches, qty("2"))

	assert.True(t, remaining.Equal(qty("0.5")), "remaining = %s", remaining)
	require.Len(t, draws, 2)
	assert.True(t, draws[1].Quantity.Equal(qty("0.5")))
}

func TestPlanFEFO_SkipsEmptyBatchesAndStopsWhenCovered(t *testing.T) {
	batches := []*Batch{
		{ID: "empty", OnHand: qty("3"), Reserved: qty("3"), ExpirationDate: date("2025-01-01")},
		{ID: "big", OnHand: qty("10"), Reserved: decimal.Zero, ExpirationDate: date("2025-02-01")},
		{ID: "later", OnHand: qty("10"), Reserved: decimal.Zero, ExpirationDate: date("2025-03-01")},
	}

	draws, remaining := PlanFEFO(batches, qty("4"))

	assert.True(t, remaining.IsZero())
	require.Len(t, draws, 1)
	assert.Equal(t, "big", draws[0].Batch.ID)
}

func TestSortFEFO_TieBreaks(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	batches := []*Batch{
		{ID: "no-expiry", ExpirationDate: nil, Seq: 1},
		{ID: "same-expiry-later", ExpirationDate: date("2025-05-01"), Seq: 4, CreatedAt: created},
		{ID: "same-expiry-earlier", ExpirationDate: date("2025-05-01"), Seq: 3, CreatedAt: created},
		{ID: "first", ExpirationDate: date("2025-04-01"), Seq: 5},
	}

	SortFEFO(batches)

	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	assert.Equal(t, []string{"first", "same-expiry-earlier", "same-expiry-later", "no-expiry"}, ids)
}

func TestPlanFEFO_DoesNotReorderInput(t *testing.T) {
	batches := []*Batch{
		{ID: "late", OnHand: qty("1"), ExpirationDate: date("2025-12-01")},
		{ID: "early", OnHand: qty("1"), ExpirationDate: date("2025-01-01")},
	}
	PlanFEFO(batches, qty("1"))
	assert.Equal(t, "late", batches[0].ID)
}
