package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

const (
	PaymentUnpaid        = "unpaid"
	PaymentPartiallyPaid = "partially_paid"
	PaymentPaid          = "paid"
	PaymentNotApplicable = "not_applicable"
)

var (
	ErrUnknownAppointmentStatus = errors.New("unknown appointment status")
	ErrPaymentMethodRequired    = errors.New("payment method is required to complete an appointment")
)

type Appointment struct {
	ID                 string               `json:"id"`
	ClientID           string               `json:"client_id"`
	MasterID           string               `json:"master_id"`
	Date               time.Time            `json:"date"`
	StartsAt           time.Time            `json:"starts_at"`
	EndsAt             time.Time            `json:"ends_at"`
	Status             string               `json:"status"`
	PaymentStatus      string               `json:"payment_status"`
	AmountPaid         decimal.Decimal      `json:"amount_paid"`
	PaymentMethodID    string               `json:"payment_method_id,omitempty"`
	DiscountPercentage decimal.Decimal      `json:"discount_percentage"`
	Notes              string               `json:"notes,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	Services           []AppointmentService `json:"services"`
}

// AppointmentService is one billed line. Price is a snapshot taken when the
// line was added.
type AppointmentService struct {
	ServiceID   string          `json:"service_id"`
	ServiceName string          `json:"service_name"`
	Price       decimal.Decimal `json:"price"`
}

type AppointmentServiceLine struct {
	ServiceID string           `json:"service_id"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type AppointmentCreateRequest struct {
	ClientID           string                   `json:"client_id"`
	MasterID           string                   `json:"master_id"`
	StartsAt           time.Time                `json:"starts_at"`
	EndsAt             time.Time                `json:"ends_at"`
	DiscountPercentage decimal.Decimal          `json:"discount_percentage"`
	Notes              string                   `json:"notes"`
	Services           []AppointmentServiceLine `json:"services"`
}

type AppointmentUpdateRequest struct {
	Services           *[]AppointmentServiceLine `json:"services,omitempty"`
	DiscountPercentage *decimal.Decimal          `json:"discount_percentage,omitempty"`
	AmountPaid         *decimal.Decimal          `json:"amount_paid,omitempty"`
	Status             *string                   `json:"status,omitempty"`
	PaymentMethodID    *string                   `json:"payment_method_id,omitempty"`
	Notes              *string                   `json:"notes,omitempty"`
}

func IsAppointmentStatus(status string) bool {
	switch status {
	case AppointmentScheduled, AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	default:
		return false
	}
}

// TotalPrice is recomputed from the lines on every call.
func (a *Appointment) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, line := range a.Services {
		total = total.Add(line.Price)
	}
	return total
}

// DiscountedPrice is the unrounded amount owed after discount.
func (a *Appointment) DiscountedPrice() decimal.Decimal {
	total := a.TotalPrice()
	return total.Sub(Percent(total, a.DiscountPercentage))
}

// AmountDue is DiscountedPrice rounded to cents.
func (a *Appointment) AmountDue() decimal.Decimal {
	return RoundMoney(a.DiscountedPrice())
}

// UpdatePaymentStatus derives PaymentStatus from Status, AmountPaid and the
// amount due. Call it after every change to any of them or to Services.
func (a *Appointment) UpdatePaymentStatus() {
	if a.Status == AppointmentCancelled {
		a.PaymentStatus = PaymentNotApplicable
		return
	}

	due := a.AmountDue()
	switch {
	case !due.IsPositive():
		a.PaymentStatus = PaymentPaid
	case !a.AmountPaid.IsPositive():
		a.PaymentStatus = PaymentUnpaid
	case a.AmountPaid.LessThan(due):
		a.PaymentStatus = PaymentPartiallyPaid
	default:
		a.PaymentStatus = PaymentPaid
	}
}

// TransitionStatus moves the appointment to status `to`. Completing requires a
// payment method; on error nothing is modified. Reopening a completed
// appointment clears its payment method but keeps AmountPaid.
func (a *Appointment) TransitionStatus(to string, paymentMethodID string) error {
	if !IsAppointmentStatus(to) {
		return ErrUnknownAppointmentStatus
	}
	paymentMethodID = strings.TrimSpace(paymentMethodID)

	from := a.Status
	switch {
	case to == AppointmentCompleted && from != AppointmentCompleted:
		if paymentMethodID == "" {
			return ErrPaymentMethodRequired
		}
		a.PaymentMethodID = paymentMethodID
	case to == AppointmentCompleted && paymentMethodID != "":
		a.PaymentMethodID = paymentMethodID
	case from == AppointmentCompleted && to == AppointmentScheduled:
		a.PaymentMethodID = ""
	}

	a.Status = to
	a.UpdatePaymentStatus()
	return nil
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
