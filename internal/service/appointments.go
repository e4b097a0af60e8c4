package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salonpos/backend/internal/domain"
	"salonpos/backend/internal/store"
)

func (s *Service) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Appointment{}, err
	}
	return *appt, nil
}

func (s *Service) ListAppointments(ctx context.Context, date string) ([]domain.Appointment, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAppointments(ctx, day, day.Add(24*time.Hour))
}

// CreateAppointment books a scheduled appointment. Line prices default to the
// catalog base price and are frozen on the appointment from then on.
func (s *Service) CreateAppointment(ctx context.Context, actor domain.Actor, req domain.AppointmentCreateRequest) (domain.Appointment, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Appointment{}, err
	}

	masterID := strings.ToLower(strings.TrimSpace(req.MasterID))
	if masterID == "" && actor.Role == domain.RoleMaster {
		masterID = actor.Username
	}
	if actor.Role == domain.RoleMaster && masterID != actor.Username {
		return domain.Appointment{}, fmt.Errorf("masters book only their own appointments: %w", ErrForbidden)
	}
	if err := s.requireActiveUser(ctx, "master_id", masterID); err != nil {
		return domain.Appointment{}, err
	}
	if req.StartsAt.IsZero() {
		return domain.Appointment{}, store.Invalid("starts_at", "is required")
	}
	if !domain.ValidPercentage(req.DiscountPercentage) {
		return domain.Appointment{}, store.Invalid("discount_percentage", "must be between 0 and 100 with at most two decimals")
	}
	if len(req.Services) == 0 {
		return domain.Appointment{}, store.Invalid("services", "at least one service is required")
	}

	lines, minutes, err := s.resolveServiceLines(ctx, req.Services)
	if err != nil {
		return domain.Appointment{}, err
	}

	startsAt := req.StartsAt.UTC()
	endsAt := req.EndsAt.UTC()
	if req.EndsAt.IsZero() {
		endsAt = startsAt.Add(time.Duration(minutes) * time.Minute)
	}
	if endsAt.Before(startsAt) {
		return domain.Appointment{}, store.Invalid("ends_at", "must not be before starts_at")
	}

	appt := domain.Appointment{
		ClientID:           strings.TrimSpace(req.ClientID),
		MasterID:           masterID,
		Date:               domain.DayOf(startsAt),
		StartsAt:           startsAt,
		EndsAt:             endsAt,
		Status:             domain.AppointmentScheduled,
		AmountPaid:         decimal.Zero,
		DiscountPercentage: req.DiscountPercentage,
		Notes:              strings.TrimSpace(req.Notes),
		Services:           lines,
	}
	appt.UpdatePaymentStatus()

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, created.Date)
	s.logAudit(ctx, actor, "appointment_create", "appointment", created.ID, fmt.Sprintf("master=%s,services=%d,total=%s", created.MasterID, len(created.Services), created.TotalPrice().StringFixed(2)))
	return *created, nil
}

// UpdateAppointment applies every requested change to the stored appointment
// as one unit. Catalog lookups happen first; the store then runs the edit
// against the locked row, so a rejected request leaves nothing half-edited
// and concurrent edits never overwrite each other.
func (s *Service) UpdateAppointment(ctx context.Context, actor domain.Actor, id string, req domain.AppointmentUpdateRequest) (domain.Appointment, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Appointment{}, err
	}

	var lines []domain.AppointmentService
	if req.Services != nil {
		if len(*req.Services) == 0 {
			return domain.Appointment{}, store.Invalid("services", "at least one service is required")
		}
		resolved, _, err := s.resolveServiceLines(ctx, *req.Services)
		if err != nil {
			return domain.Appointment{}, err
		}
		lines = resolved
	}
	if req.DiscountPercentage != nil && !domain.ValidPercentage(*req.DiscountPercentage) {
		return domain.Appointment{}, store.Invalid("discount_percentage", "must be between 0 and 100 with at most two decimals")
	}
	if req.AmountPaid != nil && req.AmountPaid.IsNegative() {
		return domain.Appointment{}, store.Invalid("amount_paid", "must not be negative")
	}
	paymentMethodID := ""
	if req.PaymentMethodID != nil {
		paymentMethodID = strings.TrimSpace(*req.PaymentMethodID)
		if paymentMethodID != "" {
			if err := s.requirePaymentMethod(ctx, paymentMethodID); err != nil {
				return domain.Appointment{}, err
			}
		}
	}

	return s.commitAppointment(ctx, actor, id, func(appt *domain.Appointment) error {
		if lines != nil {
			appt.Services = lines
		}
		if req.DiscountPercentage != nil {
			appt.DiscountPercentage = *req.DiscountPercentage
		}
		if req.AmountPaid != nil {
			appt.AmountPaid = domain.RoundMoney(*req.AmountPaid)
		}
		if req.Notes != nil {
			appt.Notes = strings.TrimSpace(*req.Notes)
		}

		switch {
		case req.Status != nil:
			if err := appt.TransitionStatus(strings.TrimSpace(*req.Status), paymentMethodID); err != nil {
				return transitionError(err, *req.Status)
			}
		case req.PaymentMethodID != nil:
			if paymentMethodID == "" && appt.Status == domain.AppointmentCompleted {
				return store.Invalid("payment_method_id", "a completed appointment keeps its payment method")
			}
			appt.PaymentMethodID = paymentMethodID
		}
		return nil
	})
}

// commitAppointment runs edit on the locked appointment, recomputes its
// payment status and records the change. Masters may only touch their own
// appointments.
func (s *Service) commitAppointment(ctx context.Context, actor domain.Actor, id string, edit func(*domain.Appointment) error) (domain.Appointment, error) {
	var previousDate time.Time
	saved, err := s.repo.UpdateAppointment(ctx, strings.TrimSpace(id), func(appt *domain.Appointment) error {
		if actor.Role == domain.RoleMaster && appt.MasterID != actor.Username {
			return fmt.Errorf("masters edit only their own appointments: %w", ErrForbidden)
		}
		previousDate = appt.Date
		if err := edit(appt); err != nil {
			return err
		}
		appt.UpdatePaymentStatus()
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, saved.Date)
	if !previousDate.Equal(saved.Date) {
		s.invalidateDay(ctx, previousDate)
	}
	s.logAudit(ctx, actor, "appointment_update", "appointment", saved.ID, fmt.Sprintf("status=%s,payment_status=%s,paid=%s,due=%s", saved.Status, saved.PaymentStatus, saved.AmountPaid.StringFixed(2), saved.AmountDue().StringFixed(2)))
	return *saved, nil
}

// CompleteAppointment marks the appointment completed with the given payment
// method. A non-nil amountPaid replaces the recorded payment in the same step.
func (s *Service) CompleteAppointment(ctx context.Context, actor domain.Actor, id string, paymentMethodID string, amountPaid *decimal.Decimal) (domain.Appointment, error) {
	status := domain.AppointmentCompleted
	return s.UpdateAppointment(ctx, actor, id, domain.AppointmentUpdateRequest{
		Status:          &status,
		PaymentMethodID: &paymentMethodID,
		AmountPaid:      amountPaid,
	})
}

func (s *Service) CancelAppointment(ctx context.Context, actor domain.Actor, id string) (domain.Appointment, error) {
	status := domain.AppointmentCancelled
	return s.UpdateAppointment(ctx, actor, id, domain.AppointmentUpdateRequest{Status: &status})
}

// RecordPayment adds amount to what the client has paid so far. The sum is
// taken against the locked row, so simultaneous payments all count.
func (s *Service) RecordPayment(ctx context.Context, actor domain.Actor, id string, amount decimal.Decimal) (domain.Appointment, error) {
	if err := requireStaff(actor); err != nil {
		return domain.Appointment{}, err
	}
	if !amount.IsPositive() {
		return domain.Appointment{}, store.Invalid("amount", "must be greater than zero")
	}
	return s.commitAppointment(ctx, actor, id, func(appt *domain.Appointment) error {
		if appt.Status == domain.AppointmentCancelled {
			return store.Invalid("status", "cannot take payment for a cancelled appointment")
		}
		appt.AmountPaid = domain.RoundMoney(appt.AmountPaid.Add(amount))
		return nil
	})
}

// resolveServiceLines snapshots catalog prices into appointment lines and
// returns the summed catalog duration.
func (s *Service) resolveServiceLines(ctx context.Context, lines []domain.AppointmentServiceLine) ([]domain.AppointmentService, int, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, strings.TrimSpace(line.ServiceID))
	}
	catalog, err := s.repo.GetServicesByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	result := make([]domain.AppointmentService, 0, len(lines))
	minutes := 0
	for i, line := range lines {
		svc, ok := catalog[ids[i]]
		if !ok {
			return nil, 0, store.Invalid(fmt.Sprintf("services[%d].service_id", i), "unknown service %q", ids[i])
		}
		if !svc.Active {
			return nil, 0, store.Invalid(fmt.Sprintf("services[%d].service_id", i), "service %q is inactive", svc.Name)
		}
		price := svc.BasePrice
		if line.Price != nil {
			if line.Price.IsNegative() {
				return nil, 0, store.Invalid(fmt.Sprintf("services[%d].price", i), "must not be negative")
			}
			price = *line.Price
		}
		result = append(result, domain.AppointmentService{
			ServiceID:   svc.ID,
			ServiceName: svc.Name,
			Price:       domain.RoundMoney(price),
		})
		minutes += svc.DurationMinutes
	}
	return result, minutes, nil
}

func transitionError(err error, status string) error {
	switch {
	case errors.Is(err, domain.ErrPaymentMethodRequired):
		return store.Invalid("payment_method_id", "%v", err)
	case errors.Is(err, domain.ErrUnknownAppointmentStatus):
		return store.Invalid("status", "unknown appointment status %q", status)
	}
	return err
}
