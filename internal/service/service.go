package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"salonpos/backend/internal/cache"
	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/report"
	"salonpos/backend/internal/store"
	"salonpos/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type Service struct {
	repo     store.Repository
	reports  cache.ReportCache
	log      *zap.Logger
	rates    report.Rates
	cacheTTL time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, for tests that need fixed report days.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(repo store.Repository, reports cache.ReportCache, log *zap.Logger, rates report.Rates, cacheTTL time.Duration, opts ...Option) *Service {
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	s := &Service{
		repo:     repo,
		reports:  reports,
		log:      log.Named("service"),
		rates:    rates,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func requireAdmin(actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", ErrForbidden)
	}
	return nil
}

func requireStaff(actor domain.Actor) error {
	if strings.TrimSpace(actor.Username) == "" {
		return fmt.Errorf("authenticated user required: %w", ErrForbidden)
	}
	switch actor.Role {
	case domain.RoleAdmin, domain.RoleMaster:
		return nil
	}
	return fmt.Errorf("unknown role %q: %w", actor.Role, ErrForbidden)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Brand = strings.TrimSpace(req.Brand)
	if req.SKU == "" {
		return domain.Product{}, store.Invalid("sku", "is required")
	}
	if req.Name == "" {
		return domain.Product{}, store.Invalid("name", "is required")
	}
	if req.CurrentSalePrice.IsNegative() {
		return domain.Product{}, store.Invalid("current_sale_price", "must not be negative")
	}
	if req.MinStockLevel < 0 {
		return domain.Product{}, store.Invalid("min_stock_level", "must not be negative")
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:              req.SKU,
		Name:             req.Name,
		Brand:            req.Brand,
		MinStockLevel:    req.MinStockLevel,
		CurrentSalePrice: domain.RoundMoney(req.CurrentSalePrice),
		LastCostPrice:    decimal.Zero,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor, "product_create", "product", created.ID, fmt.Sprintf("sku=%s,price=%s", created.SKU, created.CurrentSalePrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.Invalid("name", "is required")
		}
		updated.Name = name
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.MinStockLevel != nil {
		if *req.MinStockLevel < 0 {
			return domain.Product{}, store.Invalid("min_stock_level", "must not be negative")
		}
		updated.MinStockLevel = *req.MinStockLevel
	}
	if req.CurrentSalePrice != nil {
		if req.CurrentSalePrice.IsNegative() {
			return domain.Product{}, store.Invalid("current_sale_price", "must not be negative")
		}
		updated.CurrentSalePrice = domain.RoundMoney(*req.CurrentSalePrice)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, actor, "product_update", "product", saved.ID, fmt.Sprintf("price=%s,min_stock=%d", saved.CurrentSalePrice.StringFixed(2), saved.MinStockLevel))
	return *saved, nil
}

func (s *Service) ListServices(ctx context.Context) ([]domain.Service, error) {
	return s.repo.ListServices(ctx)
}

func (s *Service) CreateService(ctx context.Context, actor domain.Actor, svc domain.Service) (domain.Service, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Service{}, err
	}
	svc.Name = strings.TrimSpace(svc.Name)
	if svc.Name == "" {
		return domain.Service{}, store.Invalid("name", "is required")
	}
	if svc.BasePrice.IsNegative() {
		return domain.Service{}, store.Invalid("base_price", "must not be negative")
	}
	if svc.DurationMinutes < 0 {
		return domain.Service{}, store.Invalid("duration_minutes", "must not be negative")
	}
	svc.ID = ""
	svc.BasePrice = domain.RoundMoney(svc.BasePrice)

	created, err := s.repo.CreateService(ctx, svc)
	if err != nil {
		return domain.Service{}, err
	}
	s.logAudit(ctx, actor, "service_create", "service", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.BasePrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx)
}

func (s *Service) CreatePaymentMethod(ctx context.Context, actor domain.Actor, name string) (domain.PaymentMethod, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.PaymentMethod{}, err
	}
	created, err := s.repo.CreatePaymentMethod(ctx, domain.PaymentMethod{Name: strings.TrimSpace(name)})
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	s.logAudit(ctx, actor, "payment_method_create", "payment_method", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) CreateWriteOffReason(ctx context.Context, actor domain.Actor, name string) (domain.WriteOffReason, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.WriteOffReason{}, err
	}
	created, err := s.repo.CreateWriteOffReason(ctx, domain.WriteOffReason{Name: strings.TrimSpace(name)})
	if err != nil {
		return domain.WriteOffReason{}, err
	}
	s.logAudit(ctx, actor, "write_off_reason_create", "write_off_reason", created.ID, "name="+created.Name)
	return *created, nil
}

// CreateUser adds a staff account. A nil CommissionRate leaves the user on
// the role default.
func (s *Service) CreateUser(ctx context.Context, actor domain.Actor, req domain.UserCreateRequest) (domain.UserView, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.UserView{}, err
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return domain.UserView{}, store.Invalid("username", "is required")
	}
	if len(req.Password) < 8 {
		return domain.UserView{}, store.Invalid("password", "must be at least 8 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleMaster
	}
	if role != domain.RoleAdmin && role != domain.RoleMaster {
		return domain.UserView{}, store.Invalid("role", "unknown role %q", req.Role)
	}
	if req.CommissionRate != nil && !domain.ValidPercentage(*req.CommissionRate) {
		return domain.UserView{}, store.Invalid("commission_rate", "must be between 0 and 100 with at most two decimals")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{
		Username:       username,
		Password:       string(hash),
		Role:           role,
		Active:         true,
		CommissionRate: req.CommissionRate,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return domain.UserView{}, err
	}

	s.logAudit(ctx, actor, "user_create", "user", username, "role="+role)
	return userView(user), nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserView, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]domain.UserView, 0, len(users))
	for _, user := range users {
		views = append(views, userView(user))
	}
	return views, nil
}

func userView(user domain.UserAccount) domain.UserView {
	return domain.UserView{
		Username:       user.Username,
		Role:           user.Role,
		Active:         user.Active,
		CommissionRate: user.CommissionRate,
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.clock().Add(-24 * time.Hour)
	} else {
		day, err := s.parseDay(date)
		if err != nil {
			return nil, err
		}
		from = day
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// parseDay reads a "2006-01-02" date; empty means today.
func (s *Service) parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return domain.DayOf(s.clock()), nil
	}
	parsed, err := time.Parse(report.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, store.Invalid("date", "expected YYYY-MM-DD, got %q", date)
	}
	return parsed.UTC(), nil
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	username := actor.Username
	if username == "" {
		username = "system"
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: username,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

// invalidateDay drops the cached financial report for the day containing t.
func (s *Service) invalidateDay(ctx context.Context, t time.Time) {
	date := domain.DayOf(t).Format(report.DateLayout)
	if err := s.reports.Invalidate(ctx, date); err != nil {
		s.log.Warn("failed to invalidate report cache", zap.String("date", date), zap.Error(err))
	}
}
