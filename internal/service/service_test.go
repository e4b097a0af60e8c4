package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salonpos/backend/internal/cache"
	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/report"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/store/memory"
)

var (
	testNow = time.Date(2026, 4, 14, 10, 0, 0, 0, time.UTC)
	admin   = domain.Actor{Username: "admin", Role: domain.RoleAdmin}
	master  = domain.Actor{Username: "master", Role: domain.RoleMaster}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T, reports cache.ReportCache) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	rates := report.Rates{Admin: dec("10"), Master: dec("40")}
	svc := New(repo, reports, zap.NewNop(), rates, time.Minute, WithClock(func() time.Time { return testNow }))
	return svc, repo
}

func sell(t *testing.T, svc *Service, seller string, pm string, lines ...domain.SaleLine) domain.Sale {
	t.Helper()
	sale, err := svc.CreateSale(context.Background(), domain.SaleRequest{
		SellerID:        seller,
		CreatedByID:     seller,
		PaymentMethodID: pm,
		Items:           lines,
	})
	require.NoError(t, err)
	return sale
}

func book(t *testing.T, svc *Service, actor domain.Actor, discount string, lines ...domain.AppointmentServiceLine) domain.Appointment {
	t.Helper()
	appt, err := svc.CreateAppointment(context.Background(), actor, domain.AppointmentCreateRequest{
		ClientID:           "client-1",
		MasterID:           "master",
		StartsAt:           testNow.Add(time.Hour),
		DiscountPercentage: dec(discount),
		Services:           lines,
	})
	require.NoError(t, err)
	return appt
}

func priced(serviceID string, price string) domain.AppointmentServiceLine {
	p := dec(price)
	return domain.AppointmentServiceLine{ServiceID: serviceID, Price: &p}
}

func assertLedgerConsistent(t *testing.T, svc *Service) {
	t.Helper()
	gaps, err := svc.VerifyLedger(context.Background())
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestCreateSaleCostsLinesFIFO(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, admin, domain.ProductCreateRequest{
		SKU:              "gel-01",
		Name:             "Styling Gel",
		CurrentSalePrice: dec("12.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "GEL-01", product.SKU)

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, cost := range []string{"5.00", "8.00"} {
		at := first.Add(time.Duration(i) * 24 * time.Hour)
		_, err := svc.ReceiveGoods(ctx, admin, domain.GoodsReceiptRequest{
			ReceiptDate: &at,
			Items:       []domain.ReceiptLine{{ProductID: product.ID, Quantity: 10, CostPricePerUnit: dec(cost)}},
		})
		require.NoError(t, err)
	}

	sale := sell(t, svc, "master", "pm-cash", domain.SaleLine{ProductID: product.ID, Quantity: 15})
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "6.00", sale.Items[0].CostPricePerUnit.StringFixed(2))
	assert.Equal(t, "12.00", sale.Items[0].PricePerUnit.StringFixed(2))
	assert.Equal(t, "180.00", sale.TotalAmount.StringFixed(2))
	assert.Equal(t, "90.00", sale.Items[0].Profit().StringFixed(2))
	require.Len(t, sale.Items[0].Allocations, 2)

	lots, err := svc.ListReceiptLots(ctx, product.ID, false)
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, 5, lots[0].QuantityRemaining)
	assert.Equal(t, "8", lots[0].CostPricePerUnit.String())

	reloaded, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.TotalAmount.Equal(sale.TotalAmount))
	assert.True(t, reloaded.Items[0].PricePerUnit.Equal(sale.Items[0].PricePerUnit))
	assert.True(t, reloaded.Items[0].CostPricePerUnit.Equal(sale.Items[0].CostPricePerUnit))

	assertLedgerConsistent(t, svc)
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, domain.SaleRequest{
		SellerID:        "admin",
		PaymentMethodID: "pm-cash",
		Items: []domain.SaleLine{
			{ProductID: "prod-shampoo", Quantity: 2},
			{ProductID: "prod-oil", Quantity: 11},
		},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	var shortage *store.InsufficientStockError
	require.True(t, errors.As(err, &shortage))
	assert.Equal(t, "prod-oil", shortage.ProductID)
	assert.Equal(t, 11, shortage.Requested)
	assert.Equal(t, 10, shortage.Available)

	stock, err := svc.repo.GetStockMap(ctx, []string{"prod-shampoo", "prod-oil"})
	require.NoError(t, err)
	assert.Equal(t, 20, stock["prod-shampoo"])
	assert.Equal(t, 10, stock["prod-oil"])

	sales, err := svc.ListSales(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, sales)
	assertLedgerConsistent(t, svc)
}

func TestCreateSaleValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  domain.SaleRequest
		want error
	}{
		{
			name: "unknown product",
			req:  domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-cash", Items: []domain.SaleLine{{ProductID: "prod-missing", Quantity: 1}}},
			want: store.ErrNotFound,
		},
		{
			name: "zero quantity",
			req:  domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-cash", Items: []domain.SaleLine{{ProductID: "prod-oil", Quantity: 0}}},
			want: store.ErrInvalidTransaction,
		},
		{
			name: "no lines",
			req:  domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-cash"},
			want: store.ErrInvalidTransaction,
		},
		{
			name: "unknown seller",
			req:  domain.SaleRequest{SellerID: "ghost", PaymentMethodID: "pm-cash", Items: []domain.SaleLine{{ProductID: "prod-oil", Quantity: 1}}},
			want: store.ErrInvalidTransaction,
		},
		{
			name: "unknown payment method",
			req:  domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-crypto", Items: []domain.SaleLine{{ProductID: "prod-oil", Quantity: 1}}},
			want: store.ErrInvalidTransaction,
		},
		{
			name: "unknown appointment",
			req:  domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-cash", AppointmentID: "appt-missing", Items: []domain.SaleLine{{ProductID: "prod-oil", Quantity: 1}}},
			want: store.ErrInvalidTransaction,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := svc.CreateSale(ctx, domain.SaleRequest{SellerID: "admin", PaymentMethodID: "pm-cash", Items: []domain.SaleLine{{ProductID: "prod-missing", Quantity: 1}}})
	var missing *store.ProductNotFoundError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "prod-missing", missing.ProductID)

	assertLedgerConsistent(t, svc)
}

func TestWriteOffDrawsOldestLots(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	writeOff, err := svc.WriteOffStock(ctx, admin, domain.WriteOffRequest{ProductID: "prod-shampoo", Quantity: 3, ReasonID: "wor-damaged"})
	require.NoError(t, err)
	assert.Equal(t, "12.40", writeOff.CostPricePerUnit.StringFixed(2))
	assert.Equal(t, "admin", writeOff.UserID)

	stock, err := svc.repo.GetStockMap(ctx, []string{"prod-shampoo"})
	require.NoError(t, err)
	assert.Equal(t, 17, stock["prod-shampoo"])
	assertLedgerConsistent(t, svc)

	_, err = svc.WriteOffStock(ctx, admin, domain.WriteOffRequest{ProductID: "prod-shampoo", Quantity: 1, ReasonID: "wor-unknown"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.WriteOffStock(ctx, admin, domain.WriteOffRequest{ProductID: "prod-spray", Quantity: 1, ReasonID: "wor-expired"})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	_, err = svc.WriteOffStock(ctx, master, domain.WriteOffRequest{ProductID: "prod-shampoo", Quantity: 1, ReasonID: "wor-damaged"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReceiveGoodsRejectsBadLinesWithoutWriting(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.ReceiveGoods(ctx, admin, domain.GoodsReceiptRequest{
		Items: []domain.ReceiptLine{
			{ProductID: "prod-oil", Quantity: 5, CostPricePerUnit: dec("9.00")},
			{ProductID: "prod-mask", Quantity: 0, CostPricePerUnit: dec("9.00")},
		},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.ReceiveGoods(ctx, admin, domain.GoodsReceiptRequest{
		Items: []domain.ReceiptLine{{ProductID: "prod-oil", Quantity: 5, CostPricePerUnit: dec("9.00"), ExpiryDate: "next spring"}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	stock, err := svc.repo.GetStockMap(ctx, []string{"prod-oil"})
	require.NoError(t, err)
	assert.Equal(t, 10, stock["prod-oil"])

	receipt, err := svc.ReceiveGoods(ctx, admin, domain.GoodsReceiptRequest{
		SupplierName: "Keune",
		Items:        []domain.ReceiptLine{{ProductID: "prod-oil", Quantity: 5, CostPricePerUnit: dec("9.50"), ExpiryDate: "2027-06-30", BatchNumber: "B-77"}},
	})
	require.NoError(t, err)
	require.Len(t, receipt.Items, 1)
	require.NotNil(t, receipt.Items[0].ExpiryDate)
	assert.Equal(t, "2027-06-30", receipt.Items[0].ExpiryDate.Format(report.DateLayout))

	oil, err := svc.GetProduct(ctx, "prod-oil")
	require.NoError(t, err)
	assert.Equal(t, "9.50", oil.LastCostPrice.StringFixed(2))
	assertLedgerConsistent(t, svc)
}

func TestAppointmentPaymentLifecycle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	appt := book(t, svc, admin, "15", priced("svc-color", "200.00"))
	assert.Equal(t, domain.AppointmentScheduled, appt.Status)
	assert.Equal(t, domain.PaymentUnpaid, appt.PaymentStatus)
	assert.Equal(t, "170.00", appt.AmountDue().StringFixed(2))
	assert.Equal(t, "Colouring", appt.Services[0].ServiceName)

	appt, err := svc.RecordPayment(ctx, admin, appt.ID, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartiallyPaid, appt.PaymentStatus)

	paid := dec("170")
	appt, err = svc.CompleteAppointment(ctx, admin, appt.ID, "pm-card", &paid)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentCompleted, appt.Status)
	assert.Equal(t, domain.PaymentPaid, appt.PaymentStatus)
	assert.Equal(t, "pm-card", appt.PaymentMethodID)

	scheduled := domain.AppointmentScheduled
	appt, err = svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{Status: &scheduled})
	require.NoError(t, err)
	assert.Empty(t, appt.PaymentMethodID)
	assert.Equal(t, "170.00", appt.AmountPaid.StringFixed(2))
	assert.Equal(t, domain.PaymentPaid, appt.PaymentStatus)

	zero := dec("0")
	appt, err = svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{DiscountPercentage: &zero})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartiallyPaid, appt.PaymentStatus)

	appt, err = svc.CancelAppointment(ctx, admin, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentNotApplicable, appt.PaymentStatus)

	_, err = svc.RecordPayment(ctx, admin, appt.ID, dec("10"))
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCompletingWithoutPaymentMethodChangesNothing(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	appt := book(t, svc, admin, "0", domain.AppointmentServiceLine{ServiceID: "svc-cut"})
	assert.Equal(t, "45.00", appt.TotalPrice().StringFixed(2))

	completed := domain.AppointmentCompleted
	discount := dec("50")
	amount := dec("22.50")
	_, err := svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{
		Status:             &completed,
		DiscountPercentage: &discount,
		AmountPaid:         &amount,
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	stored, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AppointmentScheduled, stored.Status)
	assert.True(t, stored.DiscountPercentage.IsZero())
	assert.True(t, stored.AmountPaid.IsZero())
	assert.Equal(t, domain.PaymentUnpaid, stored.PaymentStatus)

	_, err = svc.CompleteAppointment(ctx, admin, appt.ID, "pm-unknown", nil)
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	bad := dec("120")
	_, err = svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{DiscountPercentage: &bad})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	fine := dec("12.345")
	_, err = svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{DiscountPercentage: &fine})
	require.ErrorIs(t, err, store.ErrInvalidTransaction, "discounts are stored to two decimals")

	unknown := "archived"
	_, err = svc.UpdateAppointment(ctx, admin, appt.ID, domain.AppointmentUpdateRequest{Status: &unknown})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestAppointmentPricesAreSnapshotted(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	appt := book(t, svc, admin, "0", domain.AppointmentServiceLine{ServiceID: "svc-style"})
	assert.Equal(t, "35.00", appt.Services[0].Price.StringFixed(2))
	assert.Equal(t, testNow.Add(time.Hour+45*time.Minute), appt.EndsAt)

	_, err := svc.CreateService(ctx, admin, domain.Service{Name: "Keratin", BasePrice: dec("210"), DurationMinutes: 150})
	require.NoError(t, err)

	stored, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "35.00", stored.Services[0].Price.StringFixed(2))

	_, err = svc.CreateAppointment(ctx, admin, domain.AppointmentCreateRequest{
		MasterID: "master",
		StartsAt: testNow,
		Services: []domain.AppointmentServiceLine{{ServiceID: "svc-missing"}},
	})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestMastersOnlyManageTheirOwnAppointments(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "Lena", Password: "lena-secret", Role: domain.RoleMaster})
	require.NoError(t, err)
	lena := domain.Actor{Username: "lena", Role: domain.RoleMaster}

	appt := book(t, svc, master, "0", domain.AppointmentServiceLine{ServiceID: "svc-cut"})
	assert.Equal(t, "master", appt.MasterID)

	_, err = svc.CancelAppointment(ctx, lena, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateAppointment(ctx, lena, domain.AppointmentCreateRequest{
		MasterID: "master",
		StartsAt: testNow,
		Services: []domain.AppointmentServiceLine{{ServiceID: "svc-cut"}},
	})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CancelAppointment(ctx, master, appt.ID)
	assert.NoError(t, err)
}

func TestStocktakeCompletionReconcilesLedger(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.StartStocktake(ctx, master, "")
	require.ErrorIs(t, err, ErrForbidden)

	act, err := svc.StartStocktake(ctx, admin, "quarterly")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryActNew, act.Status)
	require.Len(t, act.Items, 4)

	_, err = svc.SaveStocktakeProgress(ctx, admin, act.ID, []domain.StocktakeCount{{ProductID: "prod-shampoo", ActualQuantity: -1}})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	act, err = svc.SaveStocktakeProgress(ctx, admin, act.ID, []domain.StocktakeCount{
		{ProductID: "prod-shampoo", ActualQuantity: 17},
		{ProductID: "prod-mask", ActualQuantity: 15},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, act.TotalDiscrepancy())
	assert.Equal(t, 2, act.ItemsWithDiscrepancy())

	// Uncounted products keep whatever the ledger holds at completion.
	sell(t, svc, "admin", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 1})

	done, err := svc.CompleteStocktake(ctx, admin, act.ID)
	require.NoError(t, err)
	assert.False(t, done.AlreadyCompleted)
	assert.Equal(t, 2, done.Applied)
	assert.Equal(t, 2, done.Skipped)
	assert.Equal(t, domain.InventoryActCompleted, done.Act.Status)

	stock, err := svc.repo.GetStockMap(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 17, stock["prod-shampoo"])
	assert.Equal(t, 15, stock["prod-mask"])
	assert.Equal(t, 9, stock["prod-oil"])
	assert.Equal(t, 0, stock["prod-spray"])
	assertLedgerConsistent(t, svc)

	again, err := svc.CompleteStocktake(ctx, admin, act.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	stockAfter, err := svc.repo.GetStockMap(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, stock, stockAfter)

	_, err = svc.SaveStocktakeProgress(ctx, admin, act.ID, []domain.StocktakeCount{{ProductID: "prod-shampoo", ActualQuantity: 1}})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CompleteStocktake(ctx, admin, "act-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReportsAgreeForADay(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	sell(t, svc, "admin", "pm-card",
		domain.SaleLine{ProductID: "prod-shampoo", Quantity: 2},
		domain.SaleLine{ProductID: "prod-mask", Quantity: 1},
	)
	sell(t, svc, "master", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 3})

	cut := book(t, svc, admin, "0", domain.AppointmentServiceLine{ServiceID: "svc-cut"})
	full := dec("45")
	_, err := svc.CompleteAppointment(ctx, admin, cut.ID, "pm-cash", &full)
	require.NoError(t, err)

	color := book(t, svc, admin, "10", domain.AppointmentServiceLine{ServiceID: "svc-color"})
	discounted := dec("108")
	_, err = svc.CompleteAppointment(ctx, admin, color.ID, "pm-card", &discounted)
	require.NoError(t, err)

	style := book(t, svc, admin, "0", domain.AppointmentServiceLine{ServiceID: "svc-style"})
	_, err = svc.RecordPayment(ctx, admin, style.ID, dec("35"))
	require.NoError(t, err)
	_, err = svc.CancelAppointment(ctx, admin, style.ID)
	require.NoError(t, err)

	book(t, svc, admin, "0", domain.AppointmentServiceLine{ServiceID: "svc-cut"})

	fin, err := svc.FinancialReport(ctx, "2026-04-14")
	require.NoError(t, err)
	assert.Equal(t, "135.30", fin.ProductRevenue.StringFixed(2))
	assert.Equal(t, "153.00", fin.ServiceRevenue.StringFixed(2))
	assert.Equal(t, "288.30", fin.TotalRevenue.StringFixed(2))
	assert.Equal(t, "12.00", fin.DiscountsGranted.StringFixed(2))
	assert.Equal(t, 2, fin.CompletedAppointments)

	pay, err := svc.PayrollReport(ctx, "2026-04-14")
	require.NoError(t, err)
	assert.True(t, pay.ProductBaseTotal.Equal(fin.ProductRevenue))
	assert.Equal(t, "165.00", pay.ServiceBaseTotal.StringFixed(2))

	byUser := map[string]domain.PayrollEntry{}
	for _, e := range pay.Entries {
		byUser[e.Username] = e
	}
	assert.Equal(t, "8.13", byUser["admin"].ProductCommission.StringFixed(2))
	assert.Equal(t, "21.60", byUser["master"].ProductCommission.StringFixed(2))
	assert.Equal(t, "66.00", byUser["master"].ServiceCommission.StringFixed(2))

	recon, err := svc.ReconcileDay(ctx, "2026-04-14")
	require.NoError(t, err)
	assert.True(t, recon.Consistent, "mismatches: %v", recon.Mismatches)

	other, err := svc.FinancialReport(ctx, "2026-04-15")
	require.NoError(t, err)
	assert.True(t, other.TotalRevenue.IsZero())

	_, err = svc.FinancialReport(ctx, "14/04/2026")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDiscountDoesNotReduceCommissionBase(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	appt := book(t, svc, admin, "15", priced("svc-color", "200.00"))
	paid := dec("170.00")
	_, err := svc.CompleteAppointment(ctx, admin, appt.ID, "pm-card", &paid)
	require.NoError(t, err)

	pay, err := svc.PayrollReport(ctx, "")
	require.NoError(t, err)
	var entry domain.PayrollEntry
	for _, e := range pay.Entries {
		if e.Username == "master" {
			entry = e
		}
	}
	assert.Equal(t, "200.00", entry.ServiceBase.StringFixed(2))
	assert.Equal(t, "80.00", entry.ServiceCommission.StringFixed(2))

	fin, err := svc.FinancialReport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "170.00", fin.ServiceRevenue.StringFixed(2))
}

func TestUserCommissionOverride(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	rate := dec("25")
	_, err := svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "nora", Password: "nora-secret", CommissionRate: &rate})
	require.NoError(t, err)
	sell(t, svc, "nora", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 2})

	pay, err := svc.PayrollReport(ctx, "")
	require.NoError(t, err)
	for _, e := range pay.Entries {
		if e.Username == "nora" {
			assert.Equal(t, "25", e.CommissionRate.String())
			assert.Equal(t, "9.00", e.ProductCommission.StringFixed(2))
		}
	}

	bad := dec("101")
	_, err = svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "otto", Password: "otto-secret", CommissionRate: &bad})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CreateUser(ctx, admin, domain.UserCreateRequest{Username: "nora", Password: "another-secret"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

type recordingCache struct {
	mu          sync.Mutex
	reports     map[string]domain.FinancialReport
	generations map[string]int64
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{reports: map[string]domain.FinancialReport{}, generations: map[string]int64{}}
}

func (c *recordingCache) GetFinancial(_ context.Context, date string) (*domain.FinancialReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[date]
	if !ok {
		return nil, false, nil
	}
	return &r, true, nil
}

func (c *recordingCache) Generation(_ context.Context, date string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[date], nil
}

func (c *recordingCache) SetFinancial(_ context.Context, date string, generation int64, r *domain.FinancialReport, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generations[date] {
		return nil
	}
	c.reports[date] = *r
	return nil
}

func (c *recordingCache) Invalidate(_ context.Context, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reports, date)
	c.generations[date]++
	c.invalidated = append(c.invalidated, date)
	return nil
}

func (c *recordingCache) cached(date string) (domain.FinancialReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[date]
	return r, ok
}

func TestFinancialReportCacheIsInvalidatedBySales(t *testing.T) {
	reports := newRecordingCache()
	svc, _ := newTestService(t, reports)
	ctx := context.Background()

	before, err := svc.FinancialReport(ctx, "")
	require.NoError(t, err)
	assert.True(t, before.TotalRevenue.IsZero())
	assert.Contains(t, reports.reports, "2026-04-14")

	sell(t, svc, "admin", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 1})
	assert.Contains(t, reports.invalidated, "2026-04-14")

	after, err := svc.FinancialReport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "18.00", after.TotalRevenue.StringFixed(2))

	stale := after
	stale.TotalRevenue = dec("1")
	gen, err := reports.Generation(ctx, "2026-04-14")
	require.NoError(t, err)
	require.NoError(t, reports.SetFinancial(ctx, "2026-04-14", gen, &stale, time.Minute))
	recon, err := svc.ReconcileDay(ctx, "")
	require.NoError(t, err)
	assert.False(t, recon.Consistent)
	assert.NotContains(t, reports.reports, "2026-04-14")
}

func TestReorderSuggestions(t *testing.T) {
	svc, _ := newTestService(t, nil)

	suggestions, err := svc.ReorderSuggestions(context.Background())
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "prod-spray", suggestions[0].ProductID)
	assert.Equal(t, 4, suggestions[0].RecommendedQty)
	assert.Equal(t, "28.40", suggestions[0].EstimatedCost.StringFixed(2))
}

func TestStockReportValuesRemainingLots(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	sell(t, svc, "admin", "pm-cash", domain.SaleLine{ProductID: "prod-shampoo", Quantity: 18})

	stock, err := svc.StockReport(ctx)
	require.NoError(t, err)
	lines := map[string]domain.StockReportLine{}
	for _, line := range stock.Lines {
		lines[line.ProductID] = line
	}
	assert.Equal(t, 2, lines["prod-shampoo"].Quantity)
	assert.True(t, lines["prod-shampoo"].BelowMinimum)
	assert.Equal(t, "24.80", lines["prod-shampoo"].Valuation.StringFixed(2))
	assert.Equal(t, "192.00", lines["prod-mask"].Valuation.StringFixed(2))
	assert.Equal(t, 2, lines["prod-shampoo"].LotQuantity)
}

func TestMutationsAreAudited(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	sale := sell(t, svc, "master", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 1})

	logs, err := svc.ListAuditLogs(ctx, "2026-04-14", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "sale_create", logs[0].Action)
	assert.Equal(t, sale.ID, logs[0].EntityID)
	assert.Equal(t, "master", logs[0].ActorUsername)
}
