package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/report"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/store/memory"
)

func TestConcurrentPaymentsAreAllRecorded(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	appt := book(t, svc, admin, "0", priced("svc-color", "100.00"))

	const payers = 2
	var wg sync.WaitGroup
	errs := make(chan error, payers)
	start := make(chan struct{})
	for i := 0; i < payers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.RecordPayment(ctx, admin, appt.ID, dec("30"))
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", stored.AmountPaid.StringFixed(2))
	assert.Equal(t, domain.PaymentPartiallyPaid, stored.PaymentStatus)
}

func TestManySmallPaymentsSettleTheAppointment(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	appt := book(t, svc, admin, "0", priced("svc-color", "100.00"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordPayment(ctx, admin, appt.ID, dec("5"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", stored.AmountPaid.StringFixed(2))
	assert.Equal(t, domain.PaymentPaid, stored.PaymentStatus)
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	before := stockOf(t, repo, "prod-oil")
	require.Equal(t, 10, before)

	const buyers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sold     int
		rejected int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSale(ctx, domain.SaleRequest{
				SellerID:        "master",
				PaymentMethodID: "pm-cash",
				Items:           []domain.SaleLine{{ProductID: "prod-oil", Quantity: 1}},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, store.ErrInsufficientStock):
				rejected++
			default:
				t.Errorf("unexpected sale error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, before, sold)
	assert.Equal(t, buyers-before, rejected)
	assert.Zero(t, stockOf(t, repo, "prod-oil"))
	assertLedgerConsistent(t, svc)
}

func stockOf(t *testing.T, repo store.Repository, productID string) int {
	t.Helper()
	stock, err := repo.GetStockMap(context.Background(), []string{productID})
	require.NoError(t, err)
	return stock[productID]
}

// pausingRepo holds the first ListAppointments call until released, so a
// report can be caught between reading sales and finishing its load.
type pausingRepo struct {
	*memory.Store
	once    sync.Once
	paused  chan struct{}
	release chan struct{}
}

func (r *pausingRepo) ListAppointments(ctx context.Context, from time.Time, to time.Time) ([]domain.Appointment, error) {
	r.once.Do(func() {
		close(r.paused)
		<-r.release
	})
	return r.Store.ListAppointments(ctx, from, to)
}

func TestFinancialReportLoadedBeforeASaleIsNotCached(t *testing.T) {
	repo := &pausingRepo{
		Store:   memory.NewSeeded(),
		paused:  make(chan struct{}),
		release: make(chan struct{}),
	}
	reports := newRecordingCache()
	rates := report.Rates{Admin: dec("10"), Master: dec("40")}
	svc := New(repo, reports, zap.NewNop(), rates, time.Minute, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()

	type result struct {
		fin domain.FinancialReport
		err error
	}
	done := make(chan result, 1)
	go func() {
		fin, err := svc.FinancialReport(ctx, "")
		done <- result{fin, err}
	}()

	<-repo.paused
	sell(t, svc, "admin", "pm-cash", domain.SaleLine{ProductID: "prod-oil", Quantity: 1})
	close(repo.release)

	slow := <-done
	require.NoError(t, slow.err)
	assert.True(t, slow.fin.TotalRevenue.IsZero(), "the slow report read sales before the sale committed")

	_, ok := reports.cached("2026-04-14")
	assert.False(t, ok, "a report older than the last invalidation must not be cached")

	fresh, err := svc.FinancialReport(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "18.00", fresh.TotalRevenue.StringFixed(2))
	cached, ok := reports.cached("2026-04-14")
	require.True(t, ok)
	assert.Equal(t, "18.00", cached.TotalRevenue.StringFixed(2))
}
