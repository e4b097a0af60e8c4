// Package fifo plans stock consumption against receipt lots, oldest first,
// and derives the cost basis of what was taken. Every store implementation
// goes through these functions so FIFO order and rounding are defined once.
package fifo

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
)

// ShortageError is returned by Plan when the lots cannot cover a request.
type ShortageError struct {
	Requested int
	Available int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("requested %d, available %d", e.Requested, e.Available)
}

// Compare orders lots by receipt date, then by insertion sequence.
func Compare(a domain.ReceiptLot, b domain.ReceiptLot) int {
	if c := a.ReceiptDate.Compare(b.ReceiptDate); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func Sort(lots []domain.ReceiptLot) {
	slices.SortStableFunc(lots, Compare)
}

func Available(lots []domain.ReceiptLot) int {
	total := 0
	for _, lot := range lots {
		if lot.QuantityRemaining > 0 {
			total += lot.QuantityRemaining
		}
	}
	return total
}

// Plan selects qty units from lots in FIFO order. lots is not modified and
// need not be sorted. Nothing is allocated unless the whole request fits.
func Plan(lots []domain.ReceiptLot, qty int) ([]domain.LotAllocation, error) {
	if qty < 1 {
		return nil, fmt.Errorf("fifo: quantity must be positive, got %d", qty)
	}
	if available := Available(lots); available < qty {
		return nil, &ShortageError{Requested: qty, Available: available}
	}

	ordered := slices.Clone(lots)
	Sort(ordered)

	allocations := make([]domain.LotAllocation, 0, 2)
	remaining := qty
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		if lot.QuantityRemaining < 1 {
			continue
		}
		take := min(remaining, lot.QuantityRemaining)
		allocations = append(allocations, domain.LotAllocation{
			LotID:     lot.ID,
			ProductID: lot.ProductID,
			Quantity:  take,
			UnitCost:  lot.CostPricePerUnit,
		})
		remaining -= take
	}
	return allocations, nil
}

// Apply decrements the lots named by allocations in place.
func Apply(lots []domain.ReceiptLot, allocations []domain.LotAllocation) {
	byID := make(map[string]int, len(allocations))
	for _, alloc := range allocations {
		byID[alloc.LotID] += alloc.Quantity
	}
	for i := range lots {
		if taken, ok := byID[lots[i].ID]; ok {
			lots[i].QuantityRemaining -= taken
		}
	}
}

// WeightedUnitCost returns Σ(qty·cost)/Σqty rounded to cents.
func WeightedUnitCost(allocations []domain.LotAllocation) decimal.Decimal {
	value := decimal.Zero
	units := int64(0)
	for _, alloc := range allocations {
		value = value.Add(alloc.UnitCost.Mul(decimal.NewFromInt(int64(alloc.Quantity))))
		units += int64(alloc.Quantity)
	}
	if units == 0 {
		return decimal.Zero
	}
	return domain.RoundMoney(value.Div(decimal.NewFromInt(units)))
}

// Reconcile brings lots in line with a counted target quantity. When the lots
// hold more than target it returns the oldest-first allocations to drain; when
// they hold less it returns the surplus that needs a new adjustment lot.
func Reconcile(lots []domain.ReceiptLot, target int) ([]domain.LotAllocation, int) {
	if target < 0 {
		target = 0
	}
	available := Available(lots)
	switch {
	case available > target:
		drain, err := Plan(lots, available-target)
		if err != nil {
			return nil, 0
		}
		return drain, 0
	case available < target:
		return nil, target - available
	}
	return nil, 0
}

// Valuation is Σ remaining·cost over lots, unrounded.
func Valuation(lots []domain.ReceiptLot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		if lot.QuantityRemaining > 0 {
			total = total.Add(lot.CostPricePerUnit.Mul(decimal.NewFromInt(int64(lot.QuantityRemaining))))
		}
	}
	return total
}
