package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/fifo"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
)

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidTransaction
}

func Invalid(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StockShortage turns a fifo planning failure for product into the error the
// store reports to callers.
func StockShortage(product domain.Product, err error) error {
	var shortage *fifo.ShortageError
	if errors.As(err, &shortage) {
		return &InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   shortage.Requested,
			Available:   shortage.Available,
		}
	}
	return Invalid("quantity", "%v", err)
}

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateService(ctx context.Context, service domain.Service) (*domain.Service, error)
	GetServicesByIDs(ctx context.Context, ids []string) (map[string]domain.Service, error)
	ListServices(ctx context.Context) ([]domain.Service, error)

	CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error)
	GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	CreateWriteOffReason(ctx context.Context, reason domain.WriteOffReason) (*domain.WriteOffReason, error)
	GetWriteOffReason(ctx context.Context, id string) (*domain.WriteOffReason, error)

	GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error)
	ListStockLevels(ctx context.Context) ([]domain.StockLevel, error)
	ListReceiptLots(ctx context.Context, productID string, includeDrained bool) ([]domain.ReceiptLot, error)
	CreateGoodsReceipt(ctx context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error)
	CreateWriteOff(ctx context.Context, writeOff domain.WriteOff) (*domain.WriteOff, error)

	CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error)

	CreateAppointment(ctx context.Context, appt domain.Appointment) (*domain.Appointment, error)
	GetAppointment(ctx context.Context, id string) (*domain.Appointment, error)
	// UpdateAppointment loads the appointment, applies mutate and saves the
	// result as one unit, serialized against other updates of the same row.
	// An error from mutate aborts without writing. mutate must not call back
	// into the repository.
	UpdateAppointment(ctx context.Context, id string, mutate func(*domain.Appointment) error) (*domain.Appointment, error)
	ListAppointments(ctx context.Context, from time.Time, to time.Time) ([]domain.Appointment, error)

	CreateInventoryAct(ctx context.Context, act domain.InventoryAct) (*domain.InventoryAct, error)
	GetInventoryAct(ctx context.Context, id string) (*domain.InventoryAct, error)
	ListInventoryActs(ctx context.Context, limit int) ([]domain.InventoryAct, error)
	SaveInventoryActCounts(ctx context.Context, actID string, counts []domain.StocktakeCount) (*domain.InventoryAct, error)
	CompleteInventoryAct(ctx context.Context, actID string, at time.Time) (*domain.InventoryAct, bool, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
