package domain

import "github.com/shopspring/decimal"

type FinancialPaymentLine struct {
	PaymentMethodID string          `json:"payment_method_id"`
	ProductRevenue  decimal.Decimal `json:"product_revenue"`
	ServiceRevenue  decimal.Decimal `json:"service_revenue"`
}

type FinancialReport struct {
	Date                  string                 `json:"date"`
	Sales                 int                    `json:"sales"`
	CompletedAppointments int                    `json:"completed_appointments"`
	ProductRevenue        decimal.Decimal        `json:"product_revenue"`
	ProductCost           decimal.Decimal        `json:"product_cost"`
	ProductProfit         decimal.Decimal        `json:"product_profit"`
	ServiceRevenue        decimal.Decimal        `json:"service_revenue"`
	ServiceBilled         decimal.Decimal        `json:"service_billed"`
	DiscountsGranted      decimal.Decimal        `json:"discounts_granted"`
	TotalRevenue          decimal.Decimal        `json:"total_revenue"`
	ByPaymentMethod       []FinancialPaymentLine `json:"by_payment_method"`
}

type PayrollEntry struct {
	Username              string          `json:"username"`
	Role                  string          `json:"role"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	ProductSales          int             `json:"product_sales"`
	ProductBase           decimal.Decimal `json:"product_base"`
	CompletedAppointments int             `json:"completed_appointments"`
	ServiceBase           decimal.Decimal `json:"service_base"`
	ProductCommission     decimal.Decimal `json:"product_commission"`
	ServiceCommission     decimal.Decimal `json:"service_commission"`
	TotalCommission       decimal.Decimal `json:"total_commission"`
}

type PayrollReport struct {
	Date             string          `json:"date"`
	Entries          []PayrollEntry  `json:"entries"`
	ProductBaseTotal decimal.Decimal `json:"product_base_total"`
	ServiceBaseTotal decimal.Decimal `json:"service_base_total"`
	CommissionTotal  decimal.Decimal `json:"commission_total"`
}

type StockReportLine struct {
	ProductID     string          `json:"product_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	MinStockLevel int             `json:"min_stock_level"`
	BelowMinimum  bool            `json:"below_minimum"`
	LotQuantity   int             `json:"lot_quantity"`
	Valuation     decimal.Decimal `json:"valuation"`
}

type StockReport struct {
	Lines          []StockReportLine `json:"lines"`
	TotalQuantity  int               `json:"total_quantity"`
	TotalValuation decimal.Decimal   `json:"total_valuation"`
}

type ReorderSuggestion struct {
	ProductID      string          `json:"product_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	CurrentStock   int             `json:"current_stock"`
	MinStockLevel  int             `json:"min_stock_level"`
	RecommendedQty int             `json:"recommended_qty"`
	LastCostPrice  decimal.Decimal `json:"last_cost_price"`
	EstimatedCost  decimal.Decimal `json:"estimated_cost"`
}

// LedgerDiscrepancy is a product whose StockLevel disagrees with the sum of its
// lot remainders.
type LedgerDiscrepancy struct {
	ProductID     string `json:"product_id"`
	StockQuantity int    `json:"stock_quantity"`
	LotQuantity   int    `json:"lot_quantity"`
}

type ReconciliationReport struct {
	Date       string          `json:"date"`
	Consistent bool            `json:"consistent"`
	Mismatches []string        `json:"mismatches"`
	Financial  FinancialReport `json:"financial"`
	Payroll    PayrollReport   `json:"payroll"`
}
