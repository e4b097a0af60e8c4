package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/report"
)

type dayRecords struct {
	day          time.Time
	sales        []domain.Sale
	appointments []domain.Appointment
}

func (s *Service) loadDay(ctx context.Context, date string) (dayRecords, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return dayRecords{}, err
	}
	to := day.Add(24 * time.Hour)

	sales, err := s.repo.ListSales(ctx, day, to)
	if err != nil {
		return dayRecords{}, err
	}
	appointments, err := s.repo.ListAppointments(ctx, day, to)
	if err != nil {
		return dayRecords{}, err
	}
	return dayRecords{day: day, sales: sales, appointments: appointments}, nil
}

// FinancialReport returns revenue, cost and profit for one day. Results are
// cached per day and dropped whenever a sale or appointment on that day
// changes.
func (s *Service) FinancialReport(ctx context.Context, date string) (domain.FinancialReport, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return domain.FinancialReport{}, err
	}
	key := day.Format(report.DateLayout)

	cached, ok, err := s.reports.GetFinancial(ctx, key)
	if err != nil {
		s.log.Warn("report cache read failed", zap.String("date", key), zap.Error(err))
	}
	if ok && cached != nil {
		return *cached, nil
	}

	// Read before loading: an invalidation racing the load bumps the
	// generation and turns the write below into a dead slot.
	gen, genErr := s.reports.Generation(ctx, key)
	if genErr != nil {
		s.log.Warn("report cache generation read failed", zap.String("date", key), zap.Error(genErr))
	}
	fin, err := s.liveFinancial(ctx, key)
	if err != nil {
		return domain.FinancialReport{}, err
	}
	if genErr == nil {
		if err := s.reports.SetFinancial(ctx, key, gen, &fin, s.cacheTTL); err != nil {
			s.log.Warn("report cache write failed", zap.String("date", key), zap.Error(err))
		}
	}
	return fin, nil
}

func (s *Service) liveFinancial(ctx context.Context, date string) (domain.FinancialReport, error) {
	records, err := s.loadDay(ctx, date)
	if err != nil {
		return domain.FinancialReport{}, err
	}
	return report.Financial(records.day, records.sales, records.appointments), nil
}

func (s *Service) PayrollReport(ctx context.Context, date string) (domain.PayrollReport, error) {
	records, err := s.loadDay(ctx, date)
	if err != nil {
		return domain.PayrollReport{}, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.PayrollReport{}, err
	}
	return report.Payroll(records.day, records.sales, records.appointments, users, s.rates), nil
}

func (s *Service) StockReport(ctx context.Context) (domain.StockReport, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.StockReport{}, err
	}
	levels, err := s.repo.ListStockLevels(ctx)
	if err != nil {
		return domain.StockReport{}, err
	}
	lots, err := s.repo.ListReceiptLots(ctx, "", false)
	if err != nil {
		return domain.StockReport{}, err
	}
	return report.Stock(products, levels, lots), nil
}

// ReorderSuggestions lists products at or below their minimum stock level.
func (s *Service) ReorderSuggestions(ctx context.Context) ([]domain.ReorderSuggestion, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	stock, err := s.repo.GetStockMap(ctx, nil)
	if err != nil {
		return nil, err
	}
	return report.Reorder(products, stock), nil
}

// VerifyLedger compares every stock level with the remaining quantity of the
// product's lots. An empty result means the ledger is consistent.
func (s *Service) VerifyLedger(ctx context.Context) ([]domain.LedgerDiscrepancy, error) {
	levels, err := s.repo.ListStockLevels(ctx)
	if err != nil {
		return nil, err
	}
	lots, err := s.repo.ListReceiptLots(ctx, "", false)
	if err != nil {
		return nil, err
	}
	discrepancies := report.LedgerDiscrepancies(levels, lots)
	if len(discrepancies) > 0 {
		s.log.Error("stock ledger disagrees with receipt lots", zap.Int("products", len(discrepancies)))
	}
	return discrepancies, nil
}

// ReconcileDay builds the financial and payroll reports for one day from the
// same records and checks that they agree to the cent. A cached financial
// report that no longer matches is reported and evicted.
func (s *Service) ReconcileDay(ctx context.Context, date string) (domain.ReconciliationReport, error) {
	records, err := s.loadDay(ctx, date)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return domain.ReconciliationReport{}, err
	}

	fin := report.Financial(records.day, records.sales, records.appointments)
	pay := report.Payroll(records.day, records.sales, records.appointments, users, s.rates)
	mismatches := report.CrossCheck(fin, pay)

	cached, ok, err := s.reports.GetFinancial(ctx, fin.Date)
	if err != nil {
		s.log.Warn("report cache read failed", zap.String("date", fin.Date), zap.Error(err))
	}
	if ok && cached != nil {
		if !cached.TotalRevenue.Equal(fin.TotalRevenue) || !cached.ProductCost.Equal(fin.ProductCost) {
			mismatches = append(mismatches, fmt.Sprintf("cached financial report: total revenue %s != %s", cached.TotalRevenue.StringFixed(2), fin.TotalRevenue.StringFixed(2)))
			s.invalidateDay(ctx, records.day)
		}
	}

	if len(mismatches) > 0 {
		s.log.Error("daily reports disagree", zap.String("date", fin.Date), zap.Strings("mismatches", mismatches))
	}
	return domain.ReconciliationReport{
		Date:       fin.Date,
		Consistent: len(mismatches) == 0,
		Mismatches: mismatches,
		Financial:  fin,
		Payroll:    pay,
	}, nil
}
