package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/fifo"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// beginTx opens the READ COMMITTED transaction every multi-row write runs in.
// Stock rows are locked with FOR UPDATE in product id order before any lot is
// touched, which serializes concurrent writers per product.
func (s *Store) beginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

const productColumns = `id, sku, name, brand, min_stock_level, current_sale_price, last_cost_price, created_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Brand, &p.MinStockLevel, &p.CurrentSalePrice, &p.LastCostPrice, &p.CreatedAt)
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	product.Name = strings.TrimSpace(product.Name)
	if product.SKU == "" || product.Name == "" {
		return nil, store.Invalid("product", "sku and name are required")
	}
	if product.CurrentSalePrice.IsNegative() || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price and minimum stock must not be negative")
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, brand, min_stock_level, current_sale_price, last_cost_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, product.ID, product.SKU, product.Name, product.Brand, product.MinStockLevel,
		product.CurrentSalePrice, product.LastCostPrice, product.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO stock_levels (product_id, quantity, last_updated) VALUES ($1, 0, $2)
	`, product.ID, product.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	return loadProducts(ctx, s.db, ids)
}

func loadProducts(ctx context.Context, q querier, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.Invalid("name", "is required")
	}
	if product.CurrentSalePrice.IsNegative() || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price and minimum stock must not be negative")
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, brand = $3, min_stock_level = $4, current_sale_price = $5
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.Name, product.Brand, product.MinStockLevel, product.CurrentSalePrice))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &store.ProductNotFoundError{ProductID: product.ID}
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) CreateService(ctx context.Context, service domain.Service) (*domain.Service, error) {
	service.Name = strings.TrimSpace(service.Name)
	if service.Name == "" || service.BasePrice.IsNegative() {
		return nil, store.Invalid("service", "name is required and base price must not be negative")
	}
	if service.ID == "" {
		service.ID = xid.New("svc")
	}
	service.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, base_price, duration_minutes, active)
		VALUES ($1,$2,$3,$4,$5)
	`, service.ID, service.Name, service.BasePrice, service.DurationMinutes, service.Active)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := service
	return &created, nil
}

func (s *Store) GetServicesByIDs(ctx context.Context, ids []string) (map[string]domain.Service, error) {
	result := make(map[string]domain.Service, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_price, duration_minutes, active
		FROM services
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.BasePrice, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, err
		}
		result[svc.ID] = svc
	}
	return result, rows.Err()
}

func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, base_price, duration_minutes, active
		FROM services
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.Service, 0, 16)
	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.BasePrice, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *Store) CreatePaymentMethod(ctx context.Context, method domain.PaymentMethod) (*domain.PaymentMethod, error) {
	method.Name = strings.TrimSpace(method.Name)
	if method.Name == "" {
		return nil, store.Invalid("name", "is required")
	}
	if method.ID == "" {
		method.ID = xid.New("pm")
	}
	method.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_methods (id, name, active) VALUES ($1,$2,$3)
	`, method.ID, method.Name, method.Active)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := method
	return &created, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, id string) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, active FROM payment_methods WHERE id = $1
	`, id).Scan(&method.ID, &method.Name, &method.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &method, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM payment_methods ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	methods := make([]domain.PaymentMethod, 0, 4)
	for rows.Next() {
		var method domain.PaymentMethod
		if err := rows.Scan(&method.ID, &method.Name, &method.Active); err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}
	return methods, rows.Err()
}

func (s *Store) CreateWriteOffReason(ctx context.Context, reason domain.WriteOffReason) (*domain.WriteOffReason, error) {
	reason.Name = strings.TrimSpace(reason.Name)
	if reason.Name == "" {
		return nil, store.Invalid("name", "is required")
	}
	if reason.ID == "" {
		reason.ID = xid.New("wor")
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO write_off_reasons (id, name) VALUES ($1,$2)`, reason.ID, reason.Name)
	if err != nil {
		return nil, mapWriteError(err)
	}
	created := reason
	return &created, nil
}

func (s *Store) GetWriteOffReason(ctx context.Context, id string) (*domain.WriteOffReason, error) {
	var reason domain.WriteOffReason
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM write_off_reasons WHERE id = $1`, id).Scan(&reason.ID, &reason.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &reason, nil
}

func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(productIDs) == 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT product_id, quantity FROM stock_levels`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT product_id, quantity FROM stock_levels WHERE product_id = ANY($1)
		`, productIDs)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stockMap := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		stockMap[id] = 0
	}
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stockMap[id] = qty
	}
	return stockMap, rows.Err()
}

func (s *Store) ListStockLevels(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, quantity, last_updated FROM stock_levels ORDER BY product_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 128)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ProductID, &level.Quantity, &level.LastUpdated); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

const lotColumns = `id, seq, receipt_id, product_id, quantity_received, quantity_remaining,
	cost_price_per_unit, receipt_date, expiry_date, batch_number, source_type`

func scanLots(rows *sql.Rows) ([]domain.ReceiptLot, error) {
	defer rows.Close()

	lots := make([]domain.ReceiptLot, 0, 16)
	for rows.Next() {
		var lot domain.ReceiptLot
		var expiry sql.NullTime
		if err := rows.Scan(&lot.ID, &lot.Seq, &lot.ReceiptID, &lot.ProductID, &lot.QuantityReceived,
			&lot.QuantityRemaining, &lot.CostPricePerUnit, &lot.ReceiptDate, &expiry, &lot.BatchNumber,
			&lot.SourceType); err != nil {
			return nil, err
		}
		if expiry.Valid {
			e := expiry.Time.UTC()
			lot.ExpiryDate = &e
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (s *Store) ListReceiptLots(ctx context.Context, productID string, includeDrained bool) ([]domain.ReceiptLot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lotColumns+`
		FROM receipt_lots
		WHERE ($1 = '' OR product_id = $1) AND ($2 OR quantity_remaining > 0)
		ORDER BY product_id, receipt_date, seq
	`, productID, includeDrained)
	if err != nil {
		return nil, err
	}
	return scanLots(rows)
}

// lockStock locks the stock rows of ids in id order and returns their
// quantities.
func lockStock(ctx context.Context, pgTx *sql.Tx, ids []string) (map[string]int, error) {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM stock_levels
		WHERE product_id = ANY($1)
		ORDER BY product_id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stock := make(map[string]int, len(ids))
	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	return stock, rows.Err()
}

// lockLots loads and locks the open lots of ids, grouped by product in FIFO
// order. Call it after lockStock.
func lockLots(ctx context.Context, pgTx *sql.Tx, ids []string) (map[string][]domain.ReceiptLot, error) {
	rows, err := pgTx.QueryContext(ctx, `
		SELECT `+lotColumns+`
		FROM receipt_lots
		WHERE product_id = ANY($1) AND quantity_remaining > 0
		ORDER BY product_id, receipt_date, seq
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	lots, err := scanLots(rows)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[string][]domain.ReceiptLot, len(ids))
	for _, lot := range lots {
		byProduct[lot.ProductID] = append(byProduct[lot.ProductID], lot)
	}
	return byProduct, nil
}

func (s *Store) CreateGoodsReceipt(ctx context.Context, receipt domain.GoodsReceipt) (*domain.GoodsReceipt, error) {
	if len(receipt.Items) == 0 {
		return nil, store.Invalid("items", "receipt has no lines")
	}
	ids := make([]string, 0, len(receipt.Items))
	for i, lot := range receipt.Items {
		if lot.QuantityReceived < 1 {
			return nil, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if lot.CostPricePerUnit.IsNegative() {
			return nil, store.Invalid(fmt.Sprintf("items[%d].cost_price_per_unit", i), "must not be negative")
		}
		ids = append(ids, lot.ProductID)
	}
	ids = uniqueSorted(ids)

	if receipt.ID == "" {
		receipt.ID = xid.New("rcpt")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	if receipt.ReceiptDate.IsZero() {
		receipt.ReceiptDate = receipt.CreatedAt
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	stock, err := lockStock(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := stock[id]; !ok {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO goods_receipts (id, receipt_date, supplier_name, created_by, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, receipt.ID, receipt.ReceiptDate, receipt.SupplierName, receipt.CreatedBy, receipt.Notes, receipt.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}

	for i := range receipt.Items {
		lot := &receipt.Items[i]
		lot.ID = xid.New("lot")
		lot.ReceiptID = receipt.ID
		lot.ReceiptDate = receipt.ReceiptDate
		lot.QuantityRemaining = lot.QuantityReceived
		if lot.SourceType == "" {
			lot.SourceType = domain.LotSourceReceipt
		}
		if err := insertLot(ctx, pgTx, lot); err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE stock_levels SET quantity = quantity + $2, last_updated = $3 WHERE product_id = $1
		`, lot.ProductID, lot.QuantityReceived, receipt.CreatedAt)
		if err != nil {
			return nil, err
		}
		_, err = pgTx.ExecContext(ctx, `
			UPDATE products SET last_cost_price = $2 WHERE id = $1
		`, lot.ProductID, lot.CostPricePerUnit)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func insertLot(ctx context.Context, pgTx *sql.Tx, lot *domain.ReceiptLot) error {
	return pgTx.QueryRowContext(ctx, `
		INSERT INTO receipt_lots (
			id, receipt_id, product_id, quantity_received, quantity_remaining,
			cost_price_per_unit, receipt_date, expiry_date, batch_number, source_type
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING seq
	`, lot.ID, lot.ReceiptID, lot.ProductID, lot.QuantityReceived, lot.QuantityRemaining,
		lot.CostPricePerUnit, lot.ReceiptDate, nullDate(lot.ExpiryDate), lot.BatchNumber, lot.SourceType).Scan(&lot.Seq)
}

// stockDraw is the in-transaction working state of one multi-line FIFO draw.
type stockDraw struct {
	products map[string]domain.Product
	stock    map[string]int
	lots     map[string][]domain.ReceiptLot
	original map[string]int
}

func newStockDraw(ctx context.Context, pgTx *sql.Tx, ids []string) (*stockDraw, error) {
	products, err := loadProducts(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, &store.ProductNotFoundError{ProductID: id}
		}
	}
	stock, err := lockStock(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	lots, err := lockLots(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}
	original := map[string]int{}
	for _, productLots := range lots {
		for _, lot := range productLots {
			original[lot.ID] = lot.QuantityRemaining
		}
	}
	return &stockDraw{products: products, stock: stock, lots: lots, original: original}, nil
}

func (d *stockDraw) take(productID string, qty int) ([]domain.LotAllocation, error) {
	product := d.products[productID]
	allocations, err := fifo.Plan(d.lots[productID], qty)
	if err != nil {
		return nil, store.StockShortage(product, err)
	}
	if d.stock[productID] < qty {
		return nil, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   qty,
			Available:   d.stock[productID],
		}
	}
	fifo.Apply(d.lots[productID], allocations)
	d.stock[productID] -= qty
	return allocations, nil
}

// flush writes changed lot remainders and stock quantities.
func (d *stockDraw) flush(ctx context.Context, pgTx *sql.Tx, at time.Time) error {
	ids := make([]string, 0, len(d.lots))
	for id := range d.stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, lot := range d.lots[id] {
			if lot.QuantityRemaining == d.original[lot.ID] {
				continue
			}
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE receipt_lots SET quantity_remaining = $2 WHERE id = $1
			`, lot.ID, lot.QuantityRemaining); err != nil {
				return err
			}
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE stock_levels SET quantity = $2, last_updated = $3 WHERE product_id = $1
		`, id, d.stock[id], at); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, store.Invalid("items", "sale has no lines")
	}
	ids := make([]string, 0, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity < 1 {
			return nil, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		ids = append(ids, line.ProductID)
	}
	ids = uniqueSorted(ids)

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	draw, err := newStockDraw(ctx, pgTx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		allocations, err := draw.take(line.ProductID, line.Quantity)
		if err != nil {
			return nil, err
		}
		product := draw.products[line.ProductID]
		items = append(items, domain.SaleItem{
			ProductID:        product.ID,
			ProductName:      product.Name,
			Quantity:         line.Quantity,
			PricePerUnit:     product.CurrentSalePrice,
			CostPricePerUnit: fifo.WeightedUnitCost(allocations),
			Allocations:      allocations,
		})
	}

	createdAt := time.Now().UTC()
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

	if err := draw.flush(ctx, pgTx, createdAt); err != nil {
		return nil, err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_date, client_id, user_id, created_by, appointment_id,
			payment_method_id, total_amount, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.SaleDate, sale.ClientID, sale.UserID, sale.CreatedBy, nullIfEmpty(sale.AppointmentID),
		sale.PaymentMethodID, sale.TotalAmount, sale.Notes, sale.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}

	for lineNo, item := range sale.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, price_per_unit, cost_price_per_unit)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sale.ID, lineNo, item.ProductID, item.ProductName, item.Quantity, item.PricePerUnit, item.CostPricePerUnit)
		if err != nil {
			return nil, err
		}
		for _, alloc := range item.Allocations {
			_, err := pgTx.ExecContext(ctx, `
				INSERT INTO sale_item_lots (sale_id, line_no, lot_id, quantity, unit_cost)
				VALUES ($1,$2,$3,$4,$5)
			`, sale.ID, lineNo, alloc.LotID, alloc.Quantity, alloc.UnitCost)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

const saleColumns = `id, sale_date, client_id, user_id, created_by, COALESCE(appointment_id, ''),
	payment_method_id, total_amount, notes, created_at`

func scanSale(row interface{ Scan(...any) error }) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.SaleDate, &sale.ClientID, &sale.UserID, &sale.CreatedBy, &sale.AppointmentID,
		&sale.PaymentMethodID, &sale.TotalAmount, &sale.Notes, &sale.CreatedAt)
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sales := []domain.Sale{sale}
	if err := s.attachSaleItems(ctx, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE sale_date >= $1 AND sale_date < $2
		ORDER BY sale_date, id
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachSaleItems(ctx, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) attachSaleItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
		sales[i].Items = make([]domain.SaleItem, 0, 4)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, line_no, product_id, product_name, quantity, price_per_unit, cost_price_per_unit
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	type lineKey struct {
		saleID string
		lineNo int
	}
	lines := map[lineKey]int{}
	for rows.Next() {
		var saleID string
		var lineNo int
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &lineNo, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.PricePerUnit, &item.CostPricePerUnit); err != nil {
			_ = rows.Close()
			return err
		}
		i := index[saleID]
		lines[lineKey{saleID, lineNo}] = len(sales[i].Items)
		sales[i].Items = append(sales[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	allocRows, err := s.db.QueryContext(ctx, `
		SELECT sil.sale_id, sil.line_no, sil.lot_id, si.product_id, sil.quantity, sil.unit_cost
		FROM sale_item_lots sil
		JOIN sale_items si ON si.sale_id = sil.sale_id AND si.line_no = sil.line_no
		JOIN receipt_lots rl ON rl.id = sil.lot_id
		WHERE sil.sale_id = ANY($1)
		ORDER BY sil.sale_id, sil.line_no, rl.receipt_date, rl.seq
	`, ids)
	if err != nil {
		return err
	}
	defer allocRows.Close()
	for allocRows.Next() {
		var saleID string
		var lineNo int
		var alloc domain.LotAllocation
		if err := allocRows.Scan(&saleID, &lineNo, &alloc.LotID, &alloc.ProductID, &alloc.Quantity, &alloc.UnitCost); err != nil {
			return err
		}
		pos, ok := lines[lineKey{saleID, lineNo}]
		if !ok {
			continue
		}
		item := &sales[index[saleID]].Items[pos]
		item.Allocations = append(item.Allocations, alloc)
	}
	return allocRows.Err()
}

func (s *Store) CreateWriteOff(ctx context.Context, writeOff domain.WriteOff) (*domain.WriteOff, error) {
	if writeOff.Quantity < 1 {
		return nil, store.Invalid("quantity", "must be greater than zero")
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	draw, err := newStockDraw(ctx, pgTx, []string{writeOff.ProductID})
	if err != nil {
		return nil, err
	}
	allocations, err := draw.take(writeOff.ProductID, writeOff.Quantity)
	if err != nil {
		return nil, err
	}

	writeOff.ID = xid.New("wo")
	writeOff.CreatedAt = time.Now().UTC()
	writeOff.CostPricePerUnit = fifo.WeightedUnitCost(allocations)
	writeOff.Allocations = allocations

	if err := draw.flush(ctx, pgTx, writeOff.CreatedAt); err != nil {
		return nil, err
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO write_offs (id, product_id, quantity, reason_id, user_id, cost_price_per_unit, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, writeOff.ID, writeOff.ProductID, writeOff.Quantity, writeOff.ReasonID, writeOff.UserID,
		writeOff.CostPricePerUnit, writeOff.Notes, writeOff.CreatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	for _, alloc := range allocations {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO write_off_lots (write_off_id, lot_id, quantity, unit_cost) VALUES ($1,$2,$3,$4)
		`, writeOff.ID, alloc.LotID, alloc.Quantity, alloc.UnitCost)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &writeOff, nil
}

func (s *Store) CreateAppointment(ctx context.Context, appt domain.Appointment) (*domain.Appointment, error) {
	if strings.TrimSpace(appt.MasterID) == "" {
		return nil, store.Invalid("master_id", "is required")
	}
	if appt.ID == "" {
		appt.ID = xid.New("appt")
	}
	ts := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = ts
	}
	appt.UpdatedAt = ts

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO appointments (
			id, client_id, master_id, date, starts_at, ends_at, status, payment_status,
			amount_paid, payment_method_id, discount_percentage, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, appt.ID, appt.ClientID, appt.MasterID, domain.DayOf(appt.Date), appt.StartsAt, appt.EndsAt,
		appt.Status, appt.PaymentStatus, appt.AmountPaid, nullIfEmpty(appt.PaymentMethodID),
		appt.DiscountPercentage, appt.Notes, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := replaceAppointmentServices(ctx, pgTx, appt); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &appt, nil
}

// UpdateAppointment holds the appointment row with FOR UPDATE while mutate
// runs, so concurrent updates of one appointment apply one after another.
func (s *Store) UpdateAppointment(ctx context.Context, id string, mutate func(*domain.Appointment) error) (*domain.Appointment, error) {
	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	locked, err := scanAppointment(pgTx.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	appts := []domain.Appointment{locked}
	if err := attachAppointmentServices(ctx, pgTx, appts); err != nil {
		return nil, err
	}

	appt := appts[0]
	if err := mutate(&appt); err != nil {
		return nil, err
	}
	appt.ID = locked.ID
	appt.CreatedAt = locked.CreatedAt
	appt.UpdatedAt = time.Now().UTC()

	_, err = pgTx.ExecContext(ctx, `
		UPDATE appointments
		SET client_id = $2, master_id = $3, date = $4, starts_at = $5, ends_at = $6,
			status = $7, payment_status = $8, amount_paid = $9, payment_method_id = $10,
			discount_percentage = $11, notes = $12, updated_at = $13
		WHERE id = $1
	`, appt.ID, appt.ClientID, appt.MasterID, domain.DayOf(appt.Date), appt.StartsAt, appt.EndsAt,
		appt.Status, appt.PaymentStatus, appt.AmountPaid, nullIfEmpty(appt.PaymentMethodID),
		appt.DiscountPercentage, appt.Notes, appt.UpdatedAt)
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := replaceAppointmentServices(ctx, pgTx, appt); err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &appt, nil
}

func replaceAppointmentServices(ctx context.Context, pgTx *sql.Tx, appt domain.Appointment) error {
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM appointment_services WHERE appointment_id = $1`, appt.ID); err != nil {
		return err
	}
	for lineNo, line := range appt.Services {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO appointment_services (appointment_id, line_no, service_id, service_name, price)
			VALUES ($1,$2,$3,$4,$5)
		`, appt.ID, lineNo, line.ServiceID, line.ServiceName, line.Price)
		if err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

const appointmentColumns = `id, client_id, master_id, date, starts_at, ends_at, status, payment_status,
	amount_paid, COALESCE(payment_method_id, ''), discount_percentage, notes, created_at, updated_at`

func scanAppointment(row interface{ Scan(...any) error }) (domain.Appointment, error) {
	var a domain.Appointment
	err := row.Scan(&a.ID, &a.ClientID, &a.MasterID, &a.Date, &a.StartsAt, &a.EndsAt, &a.Status,
		&a.PaymentStatus, &a.AmountPaid, &a.PaymentMethodID, &a.DiscountPercentage, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	a.Date = a.Date.UTC()
	return a, err
}

func (s *Store) GetAppointment(ctx context.Context, id string) (*domain.Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	appts := []domain.Appointment{appt}
	if err := attachAppointmentServices(ctx, s.db, appts); err != nil {
		return nil, err
	}
	return &appts[0], nil
}

func (s *Store) ListAppointments(ctx context.Context, from time.Time, to time.Time) ([]domain.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE date >= $1::date AND date < $2::date
		ORDER BY starts_at, id
	`, domain.DayOf(from), domain.DayOf(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := make([]domain.Appointment, 0, 64)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachAppointmentServices(ctx, s.db, appts); err != nil {
		return nil, err
	}
	return appts, nil
}

func attachAppointmentServices(ctx context.Context, q querier, appts []domain.Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(appts))
	index := make(map[string]int, len(appts))
	for i, appt := range appts {
		ids = append(ids, appt.ID)
		index[appt.ID] = i
		appts[i].Services = make([]domain.AppointmentService, 0, 2)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT appointment_id, service_id, service_name, price
		FROM appointment_services
		WHERE appointment_id = ANY($1)
		ORDER BY appointment_id, line_no
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var apptID string
		var line domain.AppointmentService
		if err := rows.Scan(&apptID, &line.ServiceID, &line.ServiceName, &line.Price); err != nil {
			return err
		}
		i := index[apptID]
		appts[i].Services = append(appts[i].Services, line)
	}
	return rows.Err()
}

func (s *Store) CreateInventoryAct(ctx context.Context, act domain.InventoryAct) (*domain.InventoryAct, error) {
	if act.ID == "" {
		act.ID = xid.New("act")
	}
	if act.ActDate.IsZero() {
		act.ActDate = time.Now().UTC()
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO inventory_acts (id, status, act_date, user_id, notes) VALUES ($1,$2,$3,$4,$5)
	`, act.ID, domain.InventoryActNew, act.ActDate, act.UserID, act.Notes)
	if err != nil {
		return nil, mapWriteError(err)
	}
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO inventory_act_items (act_id, product_id, product_name, expected_quantity)
		SELECT $1, p.id, p.name, COALESCE(sl.quantity, 0)
		FROM products p
		LEFT JOIN stock_levels sl ON sl.product_id = p.id
	`, act.ID)
	if err != nil {
		return nil, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetInventoryAct(ctx, act.ID)
}

func loadInventoryAct(ctx context.Context, q querier, id string) (*domain.InventoryAct, error) {
	var act domain.InventoryAct
	var completedAt sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, status, act_date, user_id, notes, completed_at FROM inventory_acts WHERE id = $1
	`, id).Scan(&act.ID, &act.Status, &act.ActDate, &act.UserID, &act.Notes, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		act.CompletedAt = &t
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, expected_quantity, actual_quantity
		FROM inventory_act_items
		WHERE act_id = $1
		ORDER BY product_name, product_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	act.Items = make([]domain.InventoryActItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryActItem
		var actual sql.NullInt64
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.ExpectedQuantity, &actual); err != nil {
			return nil, err
		}
		if actual.Valid {
			item.SetActual(int(actual.Int64))
		}
		act.Items = append(act.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &act, nil
}

func (s *Store) GetInventoryAct(ctx context.Context, id string) (*domain.InventoryAct, error) {
	return loadInventoryAct(ctx, s.db, id)
}

func (s *Store) ListInventoryActs(ctx context.Context, limit int) ([]domain.InventoryAct, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM inventory_acts ORDER BY act_date DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	acts := make([]domain.InventoryAct, 0, len(ids))
	for _, id := range ids {
		act, err := loadInventoryAct(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		acts = append(acts, *act)
	}
	return acts, nil
}

func lockActStatus(ctx context.Context, pgTx *sql.Tx, actID string) (string, error) {
	var status string
	err := pgTx.QueryRowContext(ctx, `SELECT status FROM inventory_acts WHERE id = $1 FOR UPDATE`, actID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	return status, err
}

func (s *Store) SaveInventoryActCounts(ctx context.Context, actID string, counts []domain.StocktakeCount) (*domain.InventoryAct, error) {
	for _, count := range counts {
		if count.ActualQuantity < 0 {
			return nil, store.Invalid("actual_quantity", "must not be negative for product %s", count.ProductID)
		}
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	status, err := lockActStatus(ctx, pgTx, actID)
	if err != nil {
		return nil, err
	}
	if status == domain.InventoryActCompleted {
		return nil, store.Invalid("status", "inventory act %s is already completed", actID)
	}

	for _, count := range counts {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE inventory_act_items
			SET actual_quantity = $3, discrepancy = $3 - expected_quantity
			WHERE act_id = $1 AND product_id = $2
		`, actID, count.ProductID, count.ActualQuantity)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.Invalid("product_id", "product %s is not part of inventory act %s", count.ProductID, actID)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return s.GetInventoryAct(ctx, actID)
}

func (s *Store) CompleteInventoryAct(ctx context.Context, actID string, at time.Time) (*domain.InventoryAct, bool, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	pgTx, err := s.beginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = pgTx.Rollback() }()

	status, err := lockActStatus(ctx, pgTx, actID)
	if err != nil {
		return nil, false, err
	}
	if status == domain.InventoryActCompleted {
		act, err := loadInventoryAct(ctx, pgTx, actID)
		return act, true, err
	}

	act, err := loadInventoryAct(ctx, pgTx, actID)
	if err != nil {
		return nil, false, err
	}
	counted := map[string]int{}
	ids := make([]string, 0, len(act.Items))
	for _, item := range act.Items {
		if item.ActualQuantity == nil {
			continue
		}
		counted[item.ProductID] = *item.ActualQuantity
		ids = append(ids, item.ProductID)
	}
	slices.Sort(ids)

	if len(ids) > 0 {
		products, err := loadProducts(ctx, pgTx, ids)
		if err != nil {
			return nil, false, err
		}
		if _, err := lockStock(ctx, pgTx, ids); err != nil {
			return nil, false, err
		}
		lots, err := lockLots(ctx, pgTx, ids)
		if err != nil {
			return nil, false, err
		}
		for _, id := range ids {
			if err := reconcileProduct(ctx, pgTx, products[id], lots[id], counted[id], actID, at); err != nil {
				return nil, false, err
			}
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE inventory_acts SET status = $2, completed_at = $3 WHERE id = $1
	`, actID, domain.InventoryActCompleted, at)
	if err != nil {
		return nil, false, err
	}
	if err := pgTx.Commit(); err != nil {
		return nil, false, err
	}

	done, err := s.GetInventoryAct(ctx, actID)
	return done, false, err
}

func reconcileProduct(ctx context.Context, pgTx *sql.Tx, product domain.Product, lots []domain.ReceiptLot, actual int, actID string, at time.Time) error {
	drain, surplus := fifo.Reconcile(lots, actual)
	fifo.Apply(lots, drain)
	drained := make(map[string]struct{}, len(drain))
	for _, alloc := range drain {
		drained[alloc.LotID] = struct{}{}
	}
	for _, lot := range lots {
		if _, ok := drained[lot.ID]; !ok {
			continue
		}
		if _, err := pgTx.ExecContext(ctx, `
			UPDATE receipt_lots SET quantity_remaining = $2 WHERE id = $1
		`, lot.ID, lot.QuantityRemaining); err != nil {
			return err
		}
	}
	if surplus > 0 {
		lot := domain.ReceiptLot{
			ID:                xid.New("lot"),
			ReceiptID:         actID,
			ProductID:         product.ID,
			QuantityReceived:  surplus,
			QuantityRemaining: surplus,
			CostPricePerUnit:  product.LastCostPrice,
			ReceiptDate:       at,
			SourceType:        domain.LotSourceStocktake,
		}
		if err := insertLot(ctx, pgTx, &lot); err != nil {
			return err
		}
	}
	_, err := pgTx.ExecContext(ctx, `
		UPDATE stock_levels SET quantity = $2, last_updated = $3 WHERE product_id = $1
	`, product.ID, actual, at)
	return err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.ActorUsername, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("user", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleMaster
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var rate decimal.NullDecimal
	if user.CommissionRate != nil {
		rate = decimal.NewNullDecimal(*user.CommissionRate)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, commission_rate, created_at)
		VALUES ($1,$2,$3,true,$4,$5)
	`, username, user.Password, user.Role, rate, user.CreatedAt)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

func scanUser(row interface{ Scan(...any) error }) (domain.UserAccount, error) {
	var user domain.UserAccount
	var rate decimal.NullDecimal
	if err := row.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &rate, &user.CreatedAt); err != nil {
		return user, err
	}
	if rate.Valid {
		r := rate.Decimal
		user.CommissionRate = &r
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active, commission_rate, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, commission_rate, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	sort.Strings(out)
	return slices.Compact(out)
}

// mapWriteError turns unique violations into store.ErrConflict.
func mapWriteError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", store.ErrConflict, err.Error())
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return domain.DayOf(*val)
}
