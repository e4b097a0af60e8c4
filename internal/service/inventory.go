package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/report"
	"salonpos/backend/internal/store"
)

// ReceiveGoods books a supplier delivery. Each line becomes its own FIFO lot
// at the given unit cost; the whole receipt is stored or nothing is.
func (s *Service) ReceiveGoods(ctx context.Context, actor domain.Actor, req domain.GoodsReceiptRequest) (domain.GoodsReceipt, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.GoodsReceipt{}, err
	}
	if len(req.Items) == 0 {
		return domain.GoodsReceipt{}, store.Invalid("items", "receipt has no lines")
	}

	lots := make([]domain.ReceiptLot, 0, len(req.Items))
	for i, line := range req.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return domain.GoodsReceipt{}, store.Invalid(fmt.Sprintf("items[%d].product_id", i), "is required")
		}
		if line.Quantity < 1 {
			return domain.GoodsReceipt{}, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		if line.CostPricePerUnit.IsNegative() {
			return domain.GoodsReceipt{}, store.Invalid(fmt.Sprintf("items[%d].cost_price_per_unit", i), "must not be negative")
		}

		var expiry *time.Time
		if raw := strings.TrimSpace(line.ExpiryDate); raw != "" {
			parsed, err := time.Parse(report.DateLayout, raw)
			if err != nil {
				return domain.GoodsReceipt{}, store.Invalid(fmt.Sprintf("items[%d].expiry_date", i), "expected YYYY-MM-DD, got %q", raw)
			}
			exp := parsed.UTC()
			expiry = &exp
		}

		lots = append(lots, domain.ReceiptLot{
			ProductID:        productID,
			QuantityReceived: line.Quantity,
			CostPricePerUnit: domain.RoundMoney(line.CostPricePerUnit),
			ExpiryDate:       expiry,
			BatchNumber:      strings.TrimSpace(line.BatchNumber),
			SourceType:       domain.LotSourceReceipt,
		})
	}

	createdAt := s.clock()
	receiptDate := createdAt
	if req.ReceiptDate != nil && !req.ReceiptDate.IsZero() {
		receiptDate = req.ReceiptDate.UTC()
	}

	receipt, err := s.repo.CreateGoodsReceipt(ctx, domain.GoodsReceipt{
		ReceiptDate:  receiptDate,
		SupplierName: strings.TrimSpace(req.SupplierName),
		CreatedBy:    actor.Username,
		Notes:        strings.TrimSpace(req.Notes),
		CreatedAt:    createdAt,
		Items:        lots,
	})
	if err != nil {
		return domain.GoodsReceipt{}, err
	}

	units := 0
	for _, lot := range receipt.Items {
		units += lot.QuantityReceived
	}
	s.logAudit(ctx, actor, "goods_receipt", "goods_receipt", receipt.ID, fmt.Sprintf("lines=%d,units=%d,supplier=%s", len(receipt.Items), units, receipt.SupplierName))
	return *receipt, nil
}

func (s *Service) ListReceiptLots(ctx context.Context, productID string, includeDrained bool) ([]domain.ReceiptLot, error) {
	return s.repo.ListReceiptLots(ctx, strings.TrimSpace(productID), includeDrained)
}

// WriteOffStock removes damaged, expired or consumed units from stock,
// drawing from the oldest lots first exactly like a sale.
func (s *Service) WriteOffStock(ctx context.Context, actor domain.Actor, req domain.WriteOffRequest) (domain.WriteOff, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.WriteOff{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ReasonID = strings.TrimSpace(req.ReasonID)
	if req.ProductID == "" {
		return domain.WriteOff{}, store.Invalid("product_id", "is required")
	}
	if req.Quantity < 1 {
		return domain.WriteOff{}, store.Invalid("quantity", "must be greater than zero")
	}
	if _, err := s.repo.GetWriteOffReason(ctx, req.ReasonID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.WriteOff{}, store.Invalid("reason_id", "unknown write-off reason %q", req.ReasonID)
		}
		return domain.WriteOff{}, err
	}

	writeOff, err := s.repo.CreateWriteOff(ctx, domain.WriteOff{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		ReasonID:  req.ReasonID,
		UserID:    actor.Username,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.WriteOff{}, err
	}

	s.logAudit(ctx, actor, "stock_write_off", "product", writeOff.ProductID, fmt.Sprintf("qty=%d,reason=%s,unit_cost=%s", writeOff.Quantity, writeOff.ReasonID, writeOff.CostPricePerUnit.StringFixed(2)))
	return *writeOff, nil
}

// CreateSale validates a basket and hands it to the store, which consumes
// FIFO lots for every line and writes the sale as one unit. A failure on any
// line leaves stock, lots and sales untouched.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	req.SellerID = strings.ToLower(strings.TrimSpace(req.SellerID))
	req.CreatedByID = strings.ToLower(strings.TrimSpace(req.CreatedByID))
	req.PaymentMethodID = strings.TrimSpace(req.PaymentMethodID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Notes = strings.TrimSpace(req.Notes)
	if req.CreatedByID == "" {
		req.CreatedByID = req.SellerID
	}

	if len(req.Items) == 0 {
		return domain.Sale{}, store.Invalid("items", "sale has no lines")
	}
	ids := make([]string, 0, len(req.Items))
	for i := range req.Items {
		req.Items[i].ProductID = strings.TrimSpace(req.Items[i].ProductID)
		if req.Items[i].Quantity < 1 {
			return domain.Sale{}, store.Invalid(fmt.Sprintf("items[%d].quantity", i), "must be greater than zero")
		}
		ids = append(ids, req.Items[i].ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Sale{}, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return domain.Sale{}, &store.ProductNotFoundError{ProductID: id}
		}
	}

	if err := s.requireActiveUser(ctx, "seller_id", req.SellerID); err != nil {
		return domain.Sale{}, err
	}
	if req.CreatedByID != req.SellerID {
		if err := s.requireActiveUser(ctx, "created_by_id", req.CreatedByID); err != nil {
			return domain.Sale{}, err
		}
	}
	if err := s.requirePaymentMethod(ctx, req.PaymentMethodID); err != nil {
		return domain.Sale{}, err
	}
	if req.AppointmentID != "" {
		if _, err := s.repo.GetAppointment(ctx, req.AppointmentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Sale{}, store.Invalid("appointment_id", "unknown appointment %q", req.AppointmentID)
			}
			return domain.Sale{}, err
		}
	}
	if req.SaleDate == nil || req.SaleDate.IsZero() {
		at := s.clock()
		req.SaleDate = &at
	}

	sale, err := s.repo.CreateSale(ctx, req)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateDay(ctx, sale.SaleDate)
	s.logAudit(ctx, domain.Actor{Username: req.CreatedByID}, "sale_create", "sale", sale.ID, fmt.Sprintf("seller=%s,lines=%d,total=%s", sale.UserID, len(sale.Items), sale.TotalAmount.StringFixed(2)))
	return *sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, date string) ([]domain.Sale, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, day, day.Add(24*time.Hour))
}

func (s *Service) requireActiveUser(ctx context.Context, field string, username string) error {
	if username == "" {
		return store.Invalid(field, "is required")
	}
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Invalid(field, "unknown user %q", username)
		}
		return err
	}
	if !user.Active {
		return store.Invalid(field, "user %q is inactive", username)
	}
	return nil
}

func (s *Service) requirePaymentMethod(ctx context.Context, id string) error {
	if id == "" {
		return store.Invalid("payment_method_id", "is required")
	}
	method, err := s.repo.GetPaymentMethod(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Invalid("payment_method_id", "unknown payment method %q", id)
		}
		return err
	}
	if !method.Active {
		return store.Invalid("payment_method_id", "payment method %q is inactive", id)
	}
	return nil
}
