package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Draw is the quantity taken from one batch by a FEFO plan.
type Draw struct {
	Batch    *Batch
	Quantity decimal.Decimal
}

// SortFEFO orders batches first-expired-first-out. Batches without an
// expiration date go last; ties fall back to creation order, then id.
func SortFEFO(batches []*Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		return fefoLess(batches[i], batches[j])
	})
}

func fefoLess(a, b *Batch) bool {
	switch {
	case a.ExpirationDate != nil && b.ExpirationDate == nil:
		return true
	case a.ExpirationDate == nil && b.ExpirationDate != nil:
		return false
	case a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate):
		return a.ExpirationDate.Before(*b.ExpirationDate)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// PlanFEFO walks batches in FEFO order, taking min(available, remaining) from each
// until required is covered. It returns the draws and whatever is still missing.
// The input slice is not modified.
func PlanFEFO(batches []*Batch, required decimal.Decimal) ([]Draw, decimal.Decimal) {
	ordered := make([]*Batch, len(batches))
	copy(ordered, batches)
	SortFEFO(ordered)

	remaining := required
	var draws []Draw
	for _, b := range ordered {
		if !remaining.IsPositive() {
			break
		}
		available := b.Available()
		if !available.IsPositive() {
			continue
		}
		take := decimal.Min(available, remaining)
		draws = append(draws, Draw{Batch: b, Quantity: take})
		remaining = remaining.Sub(take)
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return draws, remaining
}
