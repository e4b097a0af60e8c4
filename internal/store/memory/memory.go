package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/fifo"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/xid"
)

// Store keeps the whole back office in maps behind one mutex. Multi-row
// operations validate and plan against working copies and only write back
// once nothing can fail, so a rejected call leaves every map untouched.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	stock           map[string]domain.StockLevel
	lotsByProduct   map[string][]domain.ReceiptLot
	receiptsByID    map[string]domain.GoodsReceipt
	lotSeq          int64
	servicesByID    map[string]domain.Service
	paymentMethods  map[string]domain.PaymentMethod
	writeOffReasons map[string]domain.WriteOffReason
	salesByID       map[string]domain.Sale
	writeOffsByID   map[string]domain.WriteOff
	appointments    map[string]domain.Appointment
	actsByID        map[string]domain.InventoryAct
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

var seedDate = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		stock:           make(map[string]domain.StockLevel),
		lotsByProduct:   make(map[string][]domain.ReceiptLot),
		receiptsByID:    make(map[string]domain.GoodsReceipt),
		servicesByID:    make(map[string]domain.Service),
		paymentMethods:  make(map[string]domain.PaymentMethod),
		writeOffReasons: make(map[string]domain.WriteOffReason),
		salesByID:       make(map[string]domain.Sale),
		writeOffsByID:   make(map[string]domain.WriteOff),
		appointments:    make(map[string]domain.Appointment),
		actsByID:        make(map[string]domain.InventoryAct),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo staff accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_MASTER_PASSWORD, falling back to dev defaults.
func seedUsers() map[string]domain.UserAccount {
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"master", envOr("SEED_MASTER_PASSWORD", "master123"), domain.RoleMaster},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: seedDate,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small salon catalog, reference data and an
// opening goods receipt, so the ledger starts consistent with its lots.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	products := []struct {
		product domain.Product
		qty     int
		cost    string
	}{
		{domain.Product{ID: "prod-shampoo", SKU: "SKU-SHP-01", Name: "Repair Shampoo 250ml", Brand: "Keune", MinStockLevel: 5, CurrentSalePrice: decimal.RequireFromString("24.90")}, 20, "12.40"},
		{domain.Product{ID: "prod-mask", SKU: "SKU-MSK-01", Name: "Hair Mask 200ml", Brand: "Keune", MinStockLevel: 3, CurrentSalePrice: decimal.RequireFromString("31.50")}, 12, "16.00"},
		{domain.Product{ID: "prod-oil", SKU: "SKU-OIL-01", Name: "Argan Oil 50ml", Brand: "Moroccanoil", MinStockLevel: 4, CurrentSalePrice: decimal.RequireFromString("18.00")}, 10, "9.25"},
		{domain.Product{ID: "prod-spray", SKU: "SKU-SPR-01", Name: "Heat Protect Spray", Brand: "Wella", MinStockLevel: 2, CurrentSalePrice: decimal.RequireFromString("15.75")}, 0, "7.10"},
	}

	opening := domain.GoodsReceipt{
		ID:           "rcpt-opening",
		ReceiptDate:  seedDate,
		SupplierName: "Opening balance",
		CreatedBy:    "admin",
		CreatedAt:    seedDate,
	}
	for _, entry := range products {
		p := entry.product
		p.LastCostPrice = decimal.RequireFromString(entry.cost)
		p.CreatedAt = seedDate
		s.products[p.ID] = p
		s.stock[p.ID] = domain.StockLevel{ProductID: p.ID, LastUpdated: seedDate}
		if entry.qty > 0 {
			opening.Items = append(opening.Items, domain.ReceiptLot{
				ProductID:        p.ID,
				QuantityReceived: entry.qty,
				CostPricePerUnit: p.LastCostPrice,
			})
		}
	}
	s.commitReceipt(opening)

	for _, svc := range []domain.Service{
		{ID: "svc-cut", Name: "Haircut", BasePrice: decimal.RequireFromString("45.00"), DurationMinutes: 60, Active: true},
		{ID: "svc-color", Name: "Colouring", BasePrice: decimal.RequireFromString("120.00"), DurationMinutes: 120, Active: true},
		{ID: "svc-style", Name: "Styling", BasePrice: decimal.RequireFromString("35.00"), DurationMinutes: 45, Active: true},
	} {
		s.servicesByID[svc.ID] = svc
	}
	for _, pm := range []domain.PaymentMethod{
		{ID: "pm-cash", Name: "Cash", Active: true},
		{ID: "pm-card", Name: "Card", Active: true},
	} {
		s.paymentMethods[pm.ID] = pm
	}
	for _, reason := range []domain.WriteOffReason{
		{ID: "wor-damaged", Name: "Damaged"},
		{ID: "wor-expired", Name: "Expired"},
		{ID: "wor-salon-use", Name: "Salon use"},
	} {
		s.writeOffReasons[reason.ID] = reason
	}
	return s
}

func now() time.Time {
	return time.Now().UTC()
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.SKU == "" || product.Name == "" {
		return nil, store.Invalid("product", "sku and name are required")
	}
	if product.CurrentSalePrice.IsNegative() || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price and minimum stock must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("sku %s: %w", product.SKU, store.ErrConflict)
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now()
	}
	s.products[product.ID] = product
	s.stock[product.ID] = domain.StockLevel{ProductID: product.ID, LastUpdated: product.CreatedAt}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, &store.ProductNotFoundError{ProductID: id}
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.Invalid("name", "is required")
	}
	if product.CurrentSalePrice.IsNegative() || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price and minimum stock must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, &store.ProductNotFoundError{ProductID: product.ID}
	}
	product.SKU = existing.SKU
	product.CreatedAt = existing.CreatedAt
	product.LastCostPrice = existing.LastCostPrice
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) CreateService(_ context.Context, service domain.Service) (*domain.Service, error) {
	service.Name = strings.TrimSpace(service.Name)
	if service.Name == "" || service.BasePrice.IsNegative() {
		return nil, store.Invalid("service", "name is required and base price must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.servicesByID {
		if strings.EqualFold(existing.Name, service.Name) {
			return nil, fmt.Errorf("service %q: %w", service.Name, store.ErrConflict)
		}
	}
	if service.ID == "" {
		service.ID = xid.New("svc")
	}
	service.Active = true
	s.servicesByID[service.ID] = service
	created := service
	return &created, nil
}

func (s *Store) GetServicesByIDs(_ context.Context, ids []string) (map[string]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Service, len(ids))
	for _, id := range ids {
		if svc, ok := s.servicesByID[id]; ok {
			result[id] = svc
		}
	}
	return result, nil
}

func (s *Store) ListServices(_ context.Context) ([]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]domain.Service, 0, len(s.servicesByID))
	for _, svc := range s.servicesByID {
		services = append(services, svc)
	}
	slices.SortFunc(services, func(a, b domain.Service) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return services, nil
}

func (s *Store) CreatePaymentMethod(_ context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	method.Name = strings.TrimSpace(method.Name)
	if method.Name == "" {
		return nil, store.Invalid("name", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.paymentMethods {
		if strings.EqualFold(existing.Name, method.Name) {
			return nil, fmt.Errorf("payment method %q: %w", method.Name, store.ErrConflict)
		}
	}
	if method.ID == "" {
		method.ID = xid.New("pm")
	}
	method.Active = true
	s.paymentMethods[method.ID] = method
	created := method
	return &created, nil
}

func (s *Store) GetPaymentMethod(_ context.Context, id string) (*domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	method, ok := s.paymentMethods[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &method, nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, method := range s.paymentMethods {
		methods = append(methods, method)
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return methods, nil
}

func (s *Store) CreateWriteOffReason(_ context.Context, reason domain.WriteOffReason) (*domain.WriteOffReason, error) {
	reason.Name = strings.TrimSpace(reason.Name)
	if reason.Name == "" {
		return nil, store.Invalid("name", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.writeOffReasons {
		if strings.EqualFold(existing.Name, reason.Name) {
			return nil, fmt.Errorf("write-off reason %q: %w", reason.Name, store.ErrConflict)
		}
	}
	if reason.ID == "" {
		reason.ID = xid.New("wor")
	}
	s.writeOffReasons[reason.ID] = reason
	created := reason
	return &created, nil
}

func (s *Store) GetWriteOffReason(_ context.Context, id string) (*domain.WriteOffReason, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reason, ok := s.writeOffReasons[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &reason, nil
}

func (s *Store) GetStockMap(_ context.Context, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(productIDs) == 0 {
		result := make(map[string]int, len(s.stock))
		for id, level := range s.stock {
			result[id] = level.Quantity
		}
		return result, nil
	}
	result := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		result[id] = s.stock[id].Quantity
	}
	return result, nil
}

func (s *Store) ListStockLevels(_ context.Context) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	levels := make([]domain.StockLevel, 0, len(s.stock))
	for _, level := range s.stock {
		levels = append(levels, level)
	}
	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return levels, nil
}

func (s *Store) ListReceiptLots(_ context.Context, productID string, includeDrained bool) ([]domain.ReceiptLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ReceiptLot, 0, 32)
	appendLots := func(lots []domain.ReceiptLot) {
		for _, lot := range lots {
			if !includeDrained && lot.QuantityRemaining < 1 {
				continue
			}
			result = append(result, lot)
		}
	}
	if productID != "" {
		appendLots(s.lotsByProduct[productID])
	} else {
		for _, lots := range s.lotsByProduct {
			appendLots(lots)
		}
	}
	slices.SortFunc(result, func(a, b domain.ReceiptLot) int {
		return cmp.Or(cmp.Compare(a.ProductID, b.ProductID), fifo.Compare(a, b))
	})
	return result, nil
}

func (s *Store) CreateGoodsReceipt(_ context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error) {
	if len(receipt.Items) == 0 {
		return nil, store.Invalid("items", "receipt has no lines")
	}
	for i, lot := range receipt.Items {
		if lot.QuantityReceived < 1 {
			return nil, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if lot.CostPricePerUnit.IsNegative() {
			return nil, store.Invalid(fmt.Sprintf("items[%d].cost_price_per_unit", i), "must not be negative")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lot := range receipt.Items {
		if _, ok := s.products[lot.ProductID]; !ok {
			return nil, &store.ProductNotFoundError{ProductID: lot.ProductID}
		}
	}
	if receipt.ID == "" {
		receipt.ID = xid.New("rcpt")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now()
	}
	if receipt.ReceiptDate.IsZero() {
		receipt.ReceiptDate = receipt.CreatedAt
	}

	saved := s.commitReceipt(receipt)
	return &saved, nil
}

// commitReceipt writes a validated receipt. Callers hold the write lock.
func (s *Store) commitReceipt(receipt domain.GoodsReceipt) domain.GoodsReceipt {
	items := make([]domain.ReceiptLot, 0, len(receipt.Items))
	for _, lot := range receipt.Items {
		s.lotSeq++
		lot.ID = xid.New("lot")
		lot.Seq = s.lotSeq
		lot.ReceiptID = receipt.ID
		lot.ReceiptDate = receipt.ReceiptDate
		lot.QuantityRemaining = lot.QuantityReceived
		if lot.SourceType == "" {
			lot.SourceType = domain.LotSourceReceipt
		}
		items = append(items, lot)

		s.lotsByProduct[lot.ProductID] = append(s.lotsByProduct[lot.ProductID], lot)
		level := s.stock[lot.ProductID]
		level.ProductID = lot.ProductID
		level.Quantity += lot.QuantityReceived
		level.LastUpdated = receipt.CreatedAt
		s.stock[lot.ProductID] = level

		product := s.products[lot.ProductID]
		product.LastCostPrice = lot.CostPricePerUnit
		s.products[lot.ProductID] = product
	}
	receipt.Items = items
	s.receiptsByID[receipt.ID] = cloneReceipt(receipt)
	return cloneReceipt(receipt)
}

// consumption is the working state of one multi-line FIFO draw.
type consumption struct {
	s     *Store
	lots  map[string][]domain.ReceiptLot
	stock map[string]int
}

func (s *Store) newConsumption() *consumption {
	return &consumption{s: s, lots: map[string][]domain.ReceiptLot{}, stock: map[string]int{}}
}

func (c *consumption) take(product domain.Product, qty int) ([]domain.LotAllocation, error) {
	lots, touched := c.lots[product.ID]
	if !touched {
		lots = slices.Clone(c.s.lotsByProduct[product.ID])
		c.stock[product.ID] = c.s.stock[product.ID].Quantity
	}
	allocations, err := fifo.Plan(lots, qty)
	if err != nil {
		return nil, store.StockShortage(product, err)
	}
	if c.stock[product.ID] < qty {
		return nil, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   qty,
			Available:   c.stock[product.ID],
		}
	}
	fifo.Apply(lots, allocations)
	c.lots[product.ID] = lots
	c.stock[product.ID] -= qty
	return allocations, nil
}

func (c *consumption) commit(at time.Time) {
	for productID, lots := range c.lots {
		c.s.lotsByProduct[productID] = lots
		level := c.s.stock[productID]
		level.ProductID = productID
		level.Quantity = c.stock[productID]
		level.LastUpdated = at
		c.s.stock[productID] = level
	}
}

func (s *Store) CreateSale(_ context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, store.Invalid("items", "sale has no lines")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paymentMethods[req.PaymentMethodID]; !ok {
		return nil, store.Invalid("payment_method_id", "unknown payment method %q", req.PaymentMethodID)
	}
	if req.AppointmentID != "" {
		if _, ok := s.appointments[req.AppointmentID]; !ok {
			return nil, store.Invalid("appointment_id", "unknown appointment %q", req.AppointmentID)
		}
	}

	work := s.newConsumption()
	items := make([]domain.SaleItem, 0, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity < 1 {
			return nil, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		product, ok := s.products[line.ProductID]
		if !ok {
			return nil, &store.ProductNotFoundError{ProductID: line.ProductID}
		}
		allocations, err := work.take(product, line.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.SaleItem{
			ProductID:        product.ID,
			ProductName:      product.Name,
			Quantity:         line.Quantity,
			PricePerUnit:     product.CurrentSalePrice,
			CostPricePerUnit: fifo.WeightedUnitCost(allocations),
			Allocations:      allocations,
		})
	}

	createdAt := now()
	sale := domain.Sale{
		ID:              xid.New("sale"),
		SaleDate:        createdAt,
		ClientID:        req.ClientID,
		UserID:          req.SellerID,
		CreatedBy:       req.CreatedByID,
		AppointmentID:   req.AppointmentID,
		PaymentMethodID: req.PaymentMethodID,
		TotalAmount:     domain.SaleTotal(items),
		Notes:           req.Notes,
		CreatedAt:       createdAt,
		Items:           items,
	}
	if req.SaleDate != nil && !req.SaleDate.IsZero() {
		sale.SaleDate = req.SaleDate.UTC()
	}

	work.commit(createdAt)
	s.salesByID[sale.ID] = cloneSale(sale)
	return ptr(cloneSale(sale)), nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ptr(cloneSale(sale)), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.SaleDate.Before(from) || !sale.SaleDate.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		return cmp.Or(a.SaleDate.Compare(b.SaleDate), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) CreateWriteOff(_ context.Context, writeOff domain.WriteOff) (*domain.WriteOff, error) {
	if writeOff.Quantity < 1 {
		return nil, store.Invalid("quantity", "must be greater than zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[writeOff.ProductID]
	if !ok {
		return nil, &store.ProductNotFoundError{ProductID: writeOff.ProductID}
	}
	if _, ok := s.writeOffReasons[writeOff.ReasonID]; !ok {
		return nil, store.Invalid("reason_id", "unknown write-off reason %q", writeOff.ReasonID)
	}

	work := s.newConsumption()
	allocations, err := work.take(product, writeOff.Quantity)
	if err != nil {
		return nil, err
	}

	writeOff.ID = xid.New("wo")
	writeOff.CreatedAt = now()
	writeOff.CostPricePerUnit = fifo.WeightedUnitCost(allocations)
	writeOff.Allocations = allocations

	work.commit(writeOff.CreatedAt)
	s.writeOffsByID[writeOff.ID] = writeOff
	created := writeOff
	created.Allocations = slices.Clone(allocations)
	return &created, nil
}

func (s *Store) CreateAppointment(_ context.Context, appt domain.Appointment) (*domain.Appointment, error) {
	if strings.TrimSpace(appt.MasterID) == "" {
		return nil, store.Invalid("master_id", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == "" {
		appt.ID = xid.New("appt")
	}
	if _, exists := s.appointments[appt.ID]; exists {
		return nil, fmt.Errorf("appointment %s: %w", appt.ID, store.ErrConflict)
	}
	ts := now()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = ts
	}
	appt.UpdatedAt = ts
	s.appointments[appt.ID] = cloneAppointment(appt)
	return ptr(cloneAppointment(appt)), nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (*domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ptr(cloneAppointment(appt)), nil
}

func (s *Store) UpdateAppointment(_ context.Context, id string, mutate func(*domain.Appointment) error) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appointments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	appt := cloneAppointment(existing)
	if err := mutate(&appt); err != nil {
		return nil, err
	}
	appt.ID = existing.ID
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = now()
	s.appointments[appt.ID] = cloneAppointment(appt)
	return ptr(cloneAppointment(appt)), nil
}

func (s *Store) ListAppointments(_ context.Context, from time.Time, to time.Time) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Appointment, 0, 32)
	for _, appt := range s.appointments {
		if appt.Date.Before(from) || !appt.Date.Before(to) {
			continue
		}
		result = append(result, cloneAppointment(appt))
	}
	slices.SortFunc(result, func(a, b domain.Appointment) int {
		return cmp.Or(a.StartsAt.Compare(b.StartsAt), cmp.Compare(a.ID, b.ID))
	})
	return result, nil
}

func (s *Store) CreateInventoryAct(_ context.Context, act domain.InventoryAct) (*domain.InventoryAct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if act.ID == "" {
		act.ID = xid.New("act")
	}
	if act.ActDate.IsZero() {
		act.ActDate = now()
	}
	act.Status = domain.InventoryActNew
	act.CompletedAt = nil

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	act.Items = make([]domain.InventoryActItem, 0, len(products))
	for _, p := range products {
		act.Items = append(act.Items, domain.InventoryActItem{
			ProductID:        p.ID,
			ProductName:      p.Name,
			ExpectedQuantity: s.stock[p.ID].Quantity,
		})
	}

	s.actsByID[act.ID] = cloneAct(act)
	return ptr(cloneAct(act)), nil
}

func (s *Store) GetInventoryAct(_ context.Context, id string) (*domain.InventoryAct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, ok := s.actsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ptr(cloneAct(act)), nil
}

func (s *Store) ListInventoryActs(_ context.Context, limit int) ([]domain.InventoryAct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryAct, 0, len(s.actsByID))
	for _, act := range s.actsByID {
		result = append(result, cloneAct(act))
	}
	slices.SortFunc(result, func(a, b domain.InventoryAct) int {
		return cmp.Or(b.ActDate.Compare(a.ActDate), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) SaveInventoryActCounts(_ context.Context, actID string, counts []domain.StocktakeCount) (*domain.InventoryAct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.actsByID[actID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if stored.IsCompleted() {
		return nil, store.Invalid("status", "inventory act %s is already completed", actID)
	}

	act := cloneAct(stored)
	index := make(map[string]int, len(act.Items))
	for i, item := range act.Items {
		index[item.ProductID] = i
	}
	for _, count := range counts {
		if count.ActualQuantity < 0 {
			return nil, store.Invalid("actual_quantity", "must not be negative for product %s", count.ProductID)
		}
		i, ok := index[count.ProductID]
		if !ok {
			return nil, store.Invalid("product_id", "product %s is not part of inventory act %s", count.ProductID, actID)
		}
		act.Items[i].SetActual(count.ActualQuantity)
	}

	s.actsByID[actID] = act
	return ptr(cloneAct(act)), nil
}

func (s *Store) CompleteInventoryAct(_ context.Context, actID string, at time.Time) (*domain.InventoryAct, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.actsByID[actID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if stored.IsCompleted() {
		return ptr(cloneAct(stored)), true, nil
	}
	if at.IsZero() {
		at = now()
	}

	for _, item := range stored.Items {
		if item.ActualQuantity == nil {
			continue
		}
		if _, ok := s.products[item.ProductID]; !ok {
			continue
		}
		s.reconcileProduct(item.ProductID, *item.ActualQuantity, actID, at)
	}

	act := cloneAct(stored)
	act.Status = domain.InventoryActCompleted
	act.CompletedAt = &at
	s.actsByID[actID] = act
	return ptr(cloneAct(act)), false, nil
}

// reconcileProduct overwrites the ledger with a counted quantity and brings the
// product's lots to the same total. Callers hold the write lock.
func (s *Store) reconcileProduct(productID string, actual int, actID string, at time.Time) {
	lots := slices.Clone(s.lotsByProduct[productID])
	drain, surplus := fifo.Reconcile(lots, actual)
	fifo.Apply(lots, drain)
	if surplus > 0 {
		s.lotSeq++
		lots = append(lots, domain.ReceiptLot{
			ID:                xid.New("lot"),
			Seq:               s.lotSeq,
			ReceiptID:         actID,
			ProductID:         productID,
			QuantityReceived:  surplus,
			QuantityRemaining: surplus,
			CostPricePerUnit:  s.products[productID].LastCostPrice,
			ReceiptDate:       at,
			SourceType:        domain.LotSourceStocktake,
		})
	}
	s.lotsByProduct[productID] = lots
	s.stock[productID] = domain.StockLevel{ProductID: productID, Quantity: actual, LastUpdated: at}
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("user", "username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("user %s: %w", username, store.ErrConflict)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleMaster
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "is required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func ptr[T any](v T) *T {
	return &v
}

func cloneReceipt(src domain.GoodsReceipt) domain.GoodsReceipt {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Items = make([]domain.SaleItem, len(src.Items))
	for i, item := range src.Items {
		item.Allocations = slices.Clone(item.Allocations)
		dup.Items[i] = item
	}
	return dup
}

func cloneAppointment(src domain.Appointment) domain.Appointment {
	dup := src
	dup.Services = slices.Clone(src.Services)
	return dup
}

func cloneAct(src domain.InventoryAct) domain.InventoryAct {
	dup := src
	if src.CompletedAt != nil {
		completed := *src.CompletedAt
		dup.CompletedAt = &completed
	}
	dup.Items = make([]domain.InventoryActItem, len(src.Items))
	for i, item := range src.Items {
		if item.ActualQuantity != nil {
			item.SetActual(*item.ActualQuantity)
		}
		dup.Items[i] = item
	}
	return dup
}
