package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID               string          `json:"id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Brand            string          `json:"brand"`
	MinStockLevel    int             `json:"min_stock_level"`
	CurrentSalePrice decimal.Decimal `json:"current_sale_price"`
	LastCostPrice    decimal.Decimal `json:"last_cost_price"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Brand            string          `json:"brand"`
	MinStockLevel    int             `json:"min_stock_level"`
	CurrentSalePrice decimal.Decimal `json:"current_sale_price"`
}

type ProductUpdateRequest struct {
	Name             *string          `json:"name,omitempty"`
	Brand            *string          `json:"brand,omitempty"`
	MinStockLevel    *int             `json:"min_stock_level,omitempty"`
	CurrentSalePrice *decimal.Decimal `json:"current_sale_price,omitempty"`
}

type StockLevel struct {
	ProductID   string    `json:"product_id"`
	Quantity    int       `json:"quantity"`
	LastUpdated time.Time `json:"last_updated"`
}

// Service is a bookable salon service from the catalog. Appointment lines
// snapshot its BasePrice and never follow later catalog edits.
type Service struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	BasePrice       decimal.Decimal `json:"base_price"`
	DurationMinutes int             `json:"duration_minutes"`
	Active          bool            `json:"active"`
}

type PaymentMethod struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type WriteOffReason struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type GoodsReceipt struct {
	ID           string       `json:"id"`
	ReceiptDate  time.Time    `json:"receipt_date"`
	SupplierName string       `json:"supplier_name,omitempty"`
	CreatedBy    string       `json:"created_by"`
	Notes        string       `json:"notes,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	Items        []ReceiptLot `json:"items"`
}

// ReceiptLot is one batch of a product received together. QuantityReceived
// and CostPricePerUnit are fixed at receipt time; only QuantityRemaining moves,
// and only downwards.
type ReceiptLot struct {
	ID                string          `json:"id"`
	Seq               int64           `json:"seq"`
	ReceiptID         string          `json:"receipt_id"`
	ProductID         string          `json:"product_id"`
	QuantityReceived  int             `json:"quantity_received"`
	QuantityRemaining int             `json:"quantity_remaining"`
	CostPricePerUnit  decimal.Decimal `json:"cost_price_per_unit"`
	ReceiptDate       time.Time       `json:"receipt_date"`
	ExpiryDate        *time.Time      `json:"expiry_date,omitempty"`
	BatchNumber       string          `json:"batch_number,omitempty"`
	SourceType        string          `json:"source_type"`
}

type ReceiptLine struct {
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	CostPricePerUnit decimal.Decimal `json:"cost_price_per_unit"`
	ExpiryDate       string          `json:"expiry_date,omitempty"`
	BatchNumber      string          `json:"batch_number,omitempty"`
}

type GoodsReceiptRequest struct {
	ReceiptDate  *time.Time    `json:"receipt_date,omitempty"`
	SupplierName string        `json:"supplier_name"`
	Notes        string        `json:"notes"`
	Items        []ReceiptLine `json:"items"`
}

// LotAllocation records how many units one FIFO draw took from a lot and at
// what unit cost.
type LotAllocation struct {
	LotID     string          `json:"lot_id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type SaleLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	SellerID        string     `json:"seller_id"`
	CreatedByID     string     `json:"created_by_id"`
	ClientID        string     `json:"client_id,omitempty"`
	AppointmentID   string     `json:"appointment_id,omitempty"`
	PaymentMethodID string     `json:"payment_method_id"`
	Notes           string     `json:"notes,omitempty"`
	SaleDate        *time.Time `json:"sale_date,omitempty"`
	Items           []SaleLine `json:"items"`
}

// Sale is immutable once committed. TotalAmount always equals the sum of its
// line totals.
type Sale struct {
	ID              string          `json:"id"`
	SaleDate        time.Time       `json:"sale_date"`
	ClientID        string          `json:"client_id,omitempty"`
	UserID          string          `json:"user_id"`
	CreatedBy       string          `json:"created_by"`
	AppointmentID   string          `json:"appointment_id,omitempty"`
	PaymentMethodID string          `json:"payment_method_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []SaleItem      `json:"items"`
}

type SaleItem struct {
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity"`
	PricePerUnit     decimal.Decimal `json:"price_per_unit"`
	CostPricePerUnit decimal.Decimal `json:"cost_price_per_unit"`
	Allocations      []LotAllocation `json:"allocations,omitempty"`
}

func (i SaleItem) TotalPrice() decimal.Decimal {
	return i.PricePerUnit.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i SaleItem) TotalCost() decimal.Decimal {
	return i.CostPricePerUnit.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i SaleItem) Profit() decimal.Decimal {
	return i.TotalPrice().Sub(i.TotalCost())
}

// SaleTotal sums line totals; it is the only way a Sale.TotalAmount is derived.
func SaleTotal(items []SaleItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice())
	}
	return total
}

type WriteOffRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	ReasonID  string `json:"reason_id"`
	Notes     string `json:"notes"`
}

type WriteOff struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	ReasonID         string          `json:"reason_id"`
	UserID           string          `json:"user_id"`
	CostPricePerUnit decimal.Decimal `json:"cost_price_per_unit"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Allocations      []LotAllocation `json:"allocations,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is the persistence model for staff. CommissionRate overrides the
// role default used by payroll when set.
type UserAccount struct {
	Username       string
	Password       string
	Role           string
	Active         bool
	CommissionRate *decimal.Decimal
	CreatedAt      time.Time
}

type UserCreateRequest struct {
	Username       string           `json:"username"`
	Password       string           `json:"password"`
	Role           string           `json:"role"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type UserView struct {
	Username       string           `json:"username"`
	Role           string           `json:"role"`
	Active         bool             `json:"active"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin  = "admin"
	RoleMaster = "master"
)

const (
	LotSourceReceipt   = "receipt"
	LotSourceStocktake = "stocktake"
)
