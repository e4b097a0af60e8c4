package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/service"
)

func contextWithActor(r *http.Request, actor domain.Actor) context.Context {
	return context.WithValue(r.Context(), actorKey{}, actor)
}

// actorFrom returns the caller authenticated by requireAuth.
func actorFrom(r *http.Request) domain.Actor {
	actor, _ := r.Context().Value(actorKey{}).(domain.Actor)
	return actor
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := a.service.ListServices(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (a *API) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var req domain.Service
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	svc, err := a.service.CreateService(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"service": svc})
}

type namedRequest struct {
	Name string `json:"name"`
}

func (a *API) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := a.service.ListPaymentMethods(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment_methods": methods})
}

func (a *API) handleCreatePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	method, err := a.service.CreatePaymentMethod(r.Context(), actorFrom(r), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment_method": method})
}

func (a *API) handleCreateWriteOffReason(w http.ResponseWriter, r *http.Request) {
	var req namedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reason, err := a.service.CreateWriteOffReason(r.Context(), actorFrom(r), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reason": reason})
}

func (a *API) handleReceiveGoods(w http.ResponseWriter, r *http.Request) {
	var req domain.GoodsReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.service.ReceiveGoods(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
}

func (a *API) handleInventoryLots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	includeDrained := strings.EqualFold(strings.TrimSpace(query.Get("include_drained")), "true")
	lots, err := a.service.ListReceiptLots(r.Context(), query.Get("product_id"), includeDrained)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (a *API) handleWriteOff(w http.ResponseWriter, r *http.Request) {
	var req domain.WriteOffRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeOff, err := a.service.WriteOffStock(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"write_off": writeOff})
}

// handleCreateSale records the caller as the sale's creator. The seller
// defaults to the caller; only admins may sell on behalf of someone else or
// enter a sale under an earlier date.
func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r)
	req.CreatedByID = actor.Username
	seller := strings.ToLower(strings.TrimSpace(req.SellerID))
	if seller == "" {
		seller = actor.Username
	}
	if actor.Role != domain.RoleAdmin && seller != actor.Username {
		writeError(w, http.StatusForbidden, errors.New("masters sell only under their own name"))
		return
	}
	req.SellerID = seller
	if actor.Role != domain.RoleAdmin {
		req.SaleDate = nil
	}

	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor := actorFrom(r)
	if actor.Role != domain.RoleAdmin && sale.UserID != actor.Username {
		a.fail(w, r, fmt.Errorf("sale belongs to another seller: %w", service.ErrForbidden))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

// handleListAppointments shows admins the whole book and masters their own
// column.
func (a *API) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	appointments, err := a.service.ListAppointments(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor := actorFrom(r)
	if actor.Role != domain.RoleAdmin {
		own := appointments[:0]
		for _, appt := range appointments {
			if appt.MasterID == actor.Username {
				own = append(own, appt)
			}
		}
		appointments = own
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointments})
}

func (a *API) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.service.GetAppointment(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	actor := actorFrom(r)
	if actor.Role != domain.RoleAdmin && appt.MasterID != actor.Username {
		a.fail(w, r, fmt.Errorf("appointment belongs to another master: %w", service.ErrForbidden))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

func (a *API) handleCreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req domain.AppointmentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	appt, err := a.service.CreateAppointment(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"appointment": appt})
}

func (a *API) handleUpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req domain.AppointmentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	appt, err := a.service.UpdateAppointment(r.Context(), actorFrom(r), r.PathValue("id"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

type completeAppointmentRequest struct {
	PaymentMethodID string           `json:"payment_method_id"`
	AmountPaid      *decimal.Decimal `json:"amount_paid,omitempty"`
}

func (a *API) handleCompleteAppointment(w http.ResponseWriter, r *http.Request) {
	var req completeAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	appt, err := a.service.CompleteAppointment(r.Context(), actorFrom(r), r.PathValue("id"), req.PaymentMethodID, req.AmountPaid)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

func (a *API) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := a.service.CancelAppointment(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (a *API) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	appt, err := a.service.RecordPayment(r.Context(), actorFrom(r), r.PathValue("id"), req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appt})
}

func (a *API) handleListStocktakes(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 200)
	acts, err := a.service.ListStocktakes(r.Context(), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocktakes": acts})
}

func (a *API) handleStartStocktake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes"`
	}
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	act, err := a.service.StartStocktake(r.Context(), actorFrom(r), req.Notes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"stocktake": act})
}

func (a *API) handleGetStocktake(w http.ResponseWriter, r *http.Request) {
	act, err := a.service.GetStocktake(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocktake": act})
}

func (a *API) handleSaveStocktake(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Counts []domain.StocktakeCount `json:"counts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	act, err := a.service.SaveStocktakeProgress(r.Context(), actorFrom(r), r.PathValue("id"), req.Counts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stocktake": act})
}

func (a *API) handleCompleteStocktake(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.CompleteStocktake(r.Context(), actorFrom(r), r.PathValue("id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleFinancialReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.FinancialReport(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"financial-report-%s.csv\"", report.Date))
		_, _ = w.Write([]byte(financialReportToCSV(report)))
	case "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(financialReportToPrintableHTML(report)))
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (a *API) handlePayrollReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.PayrollReport(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleStockReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.StockReport(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.ReconcileDay(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleReorderSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := a.service.ReorderSuggestions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (a *API) handleLedgerCheck(w http.ResponseWriter, r *http.Request) {
	discrepancies, err := a.service.VerifyLedger(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent":    len(discrepancies) == 0,
		"discrepancies": discrepancies,
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("date"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.service.ListUsers(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.service.CreateUser(r.Context(), actorFrom(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}
