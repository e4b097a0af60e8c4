// Package report computes read-only aggregates over sales, appointments and
// stock. Every figure that two reports share is derived from the same records
// with the same filters, so the reports can be cross-checked to the cent.
package report

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/fifo"
)

const DateLayout = "2006-01-02"

// Rates holds the role default commission percentages.
type Rates struct {
	Admin  decimal.Decimal
	Master decimal.Decimal
}

// For returns the user's own rate when set, else the role default.
func (r Rates) For(user domain.UserAccount) decimal.Decimal {
	if user.CommissionRate != nil {
		return *user.CommissionRate
	}
	switch user.Role {
	case domain.RoleAdmin:
		return r.Admin
	case domain.RoleMaster:
		return r.Master
	}
	return decimal.Zero
}

func onDay(t time.Time, day time.Time) bool {
	return domain.DayOf(t).Equal(day)
}

// CountsAsRevenue reports whether an appointment contributes to revenue and
// commission figures for day.
func CountsAsRevenue(appt domain.Appointment, day time.Time) bool {
	return appt.Status == domain.AppointmentCompleted && onDay(appt.Date, day)
}

func Financial(day time.Time, sales []domain.Sale, appointments []domain.Appointment) domain.FinancialReport {
	day = domain.DayOf(day)
	report := domain.FinancialReport{
		Date:             day.Format(DateLayout),
		ProductRevenue:   decimal.Zero,
		ProductCost:      decimal.Zero,
		ServiceRevenue:   decimal.Zero,
		ServiceBilled:    decimal.Zero,
		DiscountsGranted: decimal.Zero,
		ByPaymentMethod:  make([]domain.FinancialPaymentLine, 0, 4),
	}
	byMethod := map[string]*domain.FinancialPaymentLine{}
	method := func(id string) *domain.FinancialPaymentLine {
		line := byMethod[id]
		if line == nil {
			line = &domain.FinancialPaymentLine{PaymentMethodID: id, ProductRevenue: decimal.Zero, ServiceRevenue: decimal.Zero}
			byMethod[id] = line
		}
		return line
	}

	for _, sale := range sales {
		if !onDay(sale.SaleDate, day) {
			continue
		}
		report.Sales++
		revenue := decimal.Zero
		for _, item := range sale.Items {
			revenue = revenue.Add(item.TotalPrice())
			report.ProductCost = report.ProductCost.Add(item.TotalCost())
		}
		report.ProductRevenue = report.ProductRevenue.Add(revenue)
		line := method(sale.PaymentMethodID)
		line.ProductRevenue = line.ProductRevenue.Add(revenue)
	}

	for _, appt := range appointments {
		if !CountsAsRevenue(appt, day) {
			continue
		}
		report.CompletedAppointments++
		billed := appt.TotalPrice()
		report.ServiceRevenue = report.ServiceRevenue.Add(appt.AmountPaid)
		report.ServiceBilled = report.ServiceBilled.Add(billed)
		report.DiscountsGranted = report.DiscountsGranted.Add(billed.Sub(appt.AmountDue()))
		line := method(appt.PaymentMethodID)
		line.ServiceRevenue = line.ServiceRevenue.Add(appt.AmountPaid)
	}

	report.ProductProfit = report.ProductRevenue.Sub(report.ProductCost)
	report.TotalRevenue = report.ProductRevenue.Add(report.ServiceRevenue)
	for _, line := range byMethod {
		report.ByPaymentMethod = append(report.ByPaymentMethod, *line)
	}
	slices.SortFunc(report.ByPaymentMethod, func(a, b domain.FinancialPaymentLine) int {
		return cmp.Compare(a.PaymentMethodID, b.PaymentMethodID)
	})
	return report
}

func Payroll(day time.Time, sales []domain.Sale, appointments []domain.Appointment, users []domain.UserAccount, rates Rates) domain.PayrollReport {
	day = domain.DayOf(day)
	entries := map[string]*domain.PayrollEntry{}
	entry := func(username string) *domain.PayrollEntry {
		e := entries[username]
		if e == nil {
			e = &domain.PayrollEntry{
				Username:       username,
				CommissionRate: decimal.Zero,
				ProductBase:    decimal.Zero,
				ServiceBase:    decimal.Zero,
			}
			entries[username] = e
		}
		return e
	}
	for _, user := range users {
		e := entry(user.Username)
		e.Role = user.Role
		e.CommissionRate = rates.For(user)
	}

	for _, sale := range sales {
		if !onDay(sale.SaleDate, day) {
			continue
		}
		e := entry(sale.UserID)
		e.ProductSales++
		e.ProductBase = e.ProductBase.Add(sale.TotalAmount)
	}
	for _, appt := range appointments {
		if !CountsAsRevenue(appt, day) {
			continue
		}
		e := entry(appt.MasterID)
		e.CompletedAppointments++
		e.ServiceBase = e.ServiceBase.Add(appt.TotalPrice())
	}

	report := domain.PayrollReport{
		Date:             day.Format(DateLayout),
		Entries:          make([]domain.PayrollEntry, 0, len(entries)),
		ProductBaseTotal: decimal.Zero,
		ServiceBaseTotal: decimal.Zero,
		CommissionTotal:  decimal.Zero,
	}
	for _, e := range entries {
		e.ProductCommission = domain.RoundMoney(domain.Percent(e.ProductBase, e.CommissionRate))
		e.ServiceCommission = domain.RoundMoney(domain.Percent(e.ServiceBase, e.CommissionRate))
		e.TotalCommission = e.ProductCommission.Add(e.ServiceCommission)

		report.ProductBaseTotal = report.ProductBaseTotal.Add(e.ProductBase)
		report.ServiceBaseTotal = report.ServiceBaseTotal.Add(e.ServiceBase)
		report.CommissionTotal = report.CommissionTotal.Add(e.TotalCommission)
		report.Entries = append(report.Entries, *e)
	}
	slices.SortFunc(report.Entries, func(a, b domain.PayrollEntry) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return report
}

func Stock(products []domain.Product, levels []domain.StockLevel, lots []domain.ReceiptLot) domain.StockReport {
	quantities := make(map[string]int, len(levels))
	for _, level := range levels {
		quantities[level.ProductID] = level.Quantity
	}
	lotsByProduct := groupLots(lots)

	report := domain.StockReport{
		Lines:          make([]domain.StockReportLine, 0, len(products)),
		TotalValuation: decimal.Zero,
	}
	for _, p := range products {
		productLots := lotsByProduct[p.ID]
		valuation := domain.RoundMoney(fifo.Valuation(productLots))
		line := domain.StockReportLine{
			ProductID:     p.ID,
			SKU:           p.SKU,
			Name:          p.Name,
			Quantity:      quantities[p.ID],
			MinStockLevel: p.MinStockLevel,
			BelowMinimum:  quantities[p.ID] < p.MinStockLevel,
			LotQuantity:   fifo.Available(productLots),
			Valuation:     valuation,
		}
		report.Lines = append(report.Lines, line)
		report.TotalQuantity += line.Quantity
		report.TotalValuation = report.TotalValuation.Add(valuation)
	}
	return report
}

// Reorder suggests restocking every product at or below its minimum level up
// to twice that level.
func Reorder(products []domain.Product, stock map[string]int) []domain.ReorderSuggestion {
	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, p := range products {
		if p.MinStockLevel < 1 {
			continue
		}
		current := stock[p.ID]
		if current > p.MinStockLevel {
			continue
		}
		qty := p.MinStockLevel*2 - current
		if qty < 1 {
			continue
		}
		suggestions = append(suggestions, domain.ReorderSuggestion{
			ProductID:      p.ID,
			SKU:            p.SKU,
			Name:           p.Name,
			CurrentStock:   current,
			MinStockLevel:  p.MinStockLevel,
			RecommendedQty: qty,
			LastCostPrice:  p.LastCostPrice,
			EstimatedCost:  domain.RoundMoney(p.LastCostPrice.Mul(decimal.NewFromInt(int64(qty)))),
		})
	}
	slices.SortFunc(suggestions, func(a, b domain.ReorderSuggestion) int {
		return cmp.Or(cmp.Compare(a.CurrentStock, b.CurrentStock), b.EstimatedCost.Cmp(a.EstimatedCost), cmp.Compare(a.ProductID, b.ProductID))
	})
	return suggestions
}

// LedgerDiscrepancies lists products whose stock level differs from the sum
// of their lot remainders.
func LedgerDiscrepancies(levels []domain.StockLevel, lots []domain.ReceiptLot) []domain.LedgerDiscrepancy {
	lotsByProduct := groupLots(lots)
	seen := make(map[string]struct{}, len(levels))
	result := make([]domain.LedgerDiscrepancy, 0)
	for _, level := range levels {
		seen[level.ProductID] = struct{}{}
		lotQty := fifo.Available(lotsByProduct[level.ProductID])
		if lotQty != level.Quantity {
			result = append(result, domain.LedgerDiscrepancy{ProductID: level.ProductID, StockQuantity: level.Quantity, LotQuantity: lotQty})
		}
	}
	for productID, productLots := range lotsByProduct {
		if _, ok := seen[productID]; ok {
			continue
		}
		if lotQty := fifo.Available(productLots); lotQty != 0 {
			result = append(result, domain.LedgerDiscrepancy{ProductID: productID, LotQuantity: lotQty})
		}
	}
	slices.SortFunc(result, func(a, b domain.LedgerDiscrepancy) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result
}

// CrossCheck compares the figures a financial and a payroll report for the
// same day must agree on. An empty result means they are consistent.
func CrossCheck(financial domain.FinancialReport, payroll domain.PayrollReport) []string {
	mismatches := make([]string, 0)
	check := func(name string, a, b decimal.Decimal) {
		if !a.Equal(b) {
			mismatches = append(mismatches, fmt.Sprintf("%s: %s != %s", name, a.StringFixed(2), b.StringFixed(2)))
		}
	}

	if financial.Date != payroll.Date {
		mismatches = append(mismatches, fmt.Sprintf("date: %s != %s", financial.Date, payroll.Date))
	}
	check("product revenue vs payroll product base", financial.ProductRevenue, payroll.ProductBaseTotal)
	check("service billed vs payroll service base", financial.ServiceBilled, payroll.ServiceBaseTotal)
	check("total revenue", financial.TotalRevenue, financial.ProductRevenue.Add(financial.ServiceRevenue))
	check("product profit", financial.ProductProfit, financial.ProductRevenue.Sub(financial.ProductCost))

	productByMethod, serviceByMethod := decimal.Zero, decimal.Zero
	for _, line := range financial.ByPaymentMethod {
		productByMethod = productByMethod.Add(line.ProductRevenue)
		serviceByMethod = serviceByMethod.Add(line.ServiceRevenue)
	}
	check("product revenue by payment method", productByMethod, financial.ProductRevenue)
	check("service revenue by payment method", serviceByMethod, financial.ServiceRevenue)

	sales, appointments := 0, 0
	for _, e := range payroll.Entries {
		sales += e.ProductSales
		appointments += e.CompletedAppointments
	}
	if sales != financial.Sales {
		mismatches = append(mismatches, fmt.Sprintf("sale count: %d != %d", financial.Sales, sales))
	}
	if appointments != financial.CompletedAppointments {
		mismatches = append(mismatches, fmt.Sprintf("completed appointments: %d != %d", financial.CompletedAppointments, appointments))
	}
	return mismatches
}

func groupLots(lots []domain.ReceiptLot) map[string][]domain.ReceiptLot {
	grouped := make(map[string][]domain.ReceiptLot)
	for _, lot := range lots {
		grouped[lot.ProductID] = append(grouped[lot.ProductID], lot)
	}
	return grouped
}
