package domain

import "time"

const (
	InventoryActNew       = "new"
	InventoryActCompleted = "completed"
)

type InventoryAct struct {
	ID          string             `json:"id"`
	Status      string             `json:"status"`
	ActDate     time.Time          `json:"act_date"`
	UserID      string             `json:"user_id"`
	Notes       string             `json:"notes,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Items       []InventoryActItem `json:"items"`
}

// InventoryActItem holds one product's count. ActualQuantity and Discrepancy
// stay nil until the product has been counted.
type InventoryActItem struct {
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	ExpectedQuantity int    `json:"expected_quantity"`
	ActualQuantity   *int   `json:"actual_quantity"`
	Discrepancy      *int   `json:"discrepancy"`
}

type StocktakeCount struct {
	ProductID      string `json:"product_id"`
	ActualQuantity int    `json:"actual_quantity"`
}

type StocktakeCompletion struct {
	Act              InventoryAct `json:"act"`
	AlreadyCompleted bool         `json:"already_completed"`
	Applied          int          `json:"applied"`
	Skipped          int          `json:"skipped"`
}

func (i *InventoryActItem) SetActual(actual int) {
	a := actual
	d := actual - i.ExpectedQuantity
	i.ActualQuantity = &a
	i.Discrepancy = &d
}

func (a *InventoryAct) IsCompleted() bool {
	return a.Status == InventoryActCompleted
}

func (a *InventoryAct) TotalDiscrepancy() int {
	total := 0
	for _, item := range a.Items {
		if item.Discrepancy != nil {
			total += *item.Discrepancy
		}
	}
	return total
}

func (a *InventoryAct) ItemsWithDiscrepancy() int {
	count := 0
	for _, item := range a.Items {
		if item.Discrepancy != nil && *item.Discrepancy != 0 {
			count++
		}
	}
	return count
}

func (a *InventoryAct) CountedItems() int {
	count := 0
	for _, item := range a.Items {
		if item.ActualQuantity != nil {
			count++
		}
	}
	return count
}
