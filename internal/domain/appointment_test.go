package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func appointmentWith(prices ...string) *Appointment {
	appt := &Appointment{Status: AppointmentScheduled}
	for _, p := range prices {
		appt.Services = append(appt.Services, AppointmentService{ServiceID: "svc", Price: dec(p)})
	}
	appt.UpdatePaymentStatus()
	return appt
}

func TestUpdatePaymentStatus(t *testing.T) {
	cases := []struct {
		paid string
		want string
	}{
		{paid: "0", want: PaymentUnpaid},
		{paid: "50", want: PaymentPartiallyPaid},
		{paid: "99.99", want: PaymentPartiallyPaid},
		{paid: "100", want: PaymentPaid},
		{paid: "120", want: PaymentPaid},
	}

	for _, tc := range cases {
		t.Run(tc.paid, func(t *testing.T) {
			appt := appointmentWith("100")
			appt.AmountPaid = dec(tc.paid)
			appt.UpdatePaymentStatus()
			assert.Equal(t, tc.want, appt.PaymentStatus)
		})
	}
}

func TestCancelledAppointmentIsNotApplicable(t *testing.T) {
	appt := appointmentWith("100")
	appt.AmountPaid = dec("100")

	require.NoError(t, appt.TransitionStatus(AppointmentCancelled, ""))
	assert.Equal(t, PaymentNotApplicable, appt.PaymentStatus)
}

func TestFreeAppointmentIsPaid(t *testing.T) {
	appt := appointmentWith("80")
	appt.DiscountPercentage = dec("100")
	appt.UpdatePaymentStatus()
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)

	empty := appointmentWith()
	assert.Equal(t, PaymentPaid, empty.PaymentStatus)
}

func TestDiscountedPrice(t *testing.T) {
	appt := appointmentWith("120", "80")
	appt.DiscountPercentage = dec("15")

	assert.True(t, appt.TotalPrice().Equal(dec("200")))
	assert.True(t, appt.DiscountedPrice().Equal(dec("170")))

	appt.AmountPaid = dec("170")
	appt.UpdatePaymentStatus()
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)
}

func TestAmountDueRoundsToCents(t *testing.T) {
	appt := appointmentWith("10")
	appt.DiscountPercentage = dec("33.333")

	assert.Equal(t, "6.6667", appt.DiscountedPrice().String())
	assert.Equal(t, "6.67", appt.AmountDue().String())

	appt.AmountPaid = dec("6.67")
	appt.UpdatePaymentStatus()
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)
}

func TestCompletingRequiresPaymentMethod(t *testing.T) {
	appt := appointmentWith("100")
	appt.AmountPaid = dec("40")
	appt.UpdatePaymentStatus()
	before := *appt

	err := appt.TransitionStatus(AppointmentCompleted, "  ")
	require.ErrorIs(t, err, ErrPaymentMethodRequired)
	assert.Equal(t, before.Status, appt.Status)
	assert.Equal(t, before.PaymentStatus, appt.PaymentStatus)
	assert.Empty(t, appt.PaymentMethodID)

	require.NoError(t, appt.TransitionStatus(AppointmentCompleted, "pm-card"))
	assert.Equal(t, AppointmentCompleted, appt.Status)
	assert.Equal(t, "pm-card", appt.PaymentMethodID)
	assert.Equal(t, PaymentPartiallyPaid, appt.PaymentStatus)
}

func TestReopeningClearsPaymentMethodAndKeepsAmount(t *testing.T) {
	appt := appointmentWith("100")
	appt.AmountPaid = dec("100")
	require.NoError(t, appt.TransitionStatus(AppointmentCompleted, "pm-cash"))

	require.NoError(t, appt.TransitionStatus(AppointmentScheduled, ""))
	assert.Equal(t, AppointmentScheduled, appt.Status)
	assert.Empty(t, appt.PaymentMethodID)
	assert.True(t, appt.AmountPaid.Equal(dec("100")))
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	appt := appointmentWith("100")
	err := appt.TransitionStatus("archived", "pm-cash")
	require.ErrorIs(t, err, ErrUnknownAppointmentStatus)
	assert.Equal(t, AppointmentScheduled, appt.Status)
}

func TestPercentAndRounding(t *testing.T) {
	assert.Equal(t, "15", Percent(dec("100"), dec("15")).String())
	assert.Equal(t, "0.01", RoundMoney(dec("0.005")).String())
	assert.Equal(t, "2.35", RoundMoney(dec("2.345")).String())
	assert.True(t, ValidPercentage(dec("0")))
	assert.True(t, ValidPercentage(dec("100")))
	assert.False(t, ValidPercentage(dec("100.01")))
	assert.False(t, ValidPercentage(dec("-1")))
	assert.True(t, ValidPercentage(dec("12.50")))
	assert.True(t, ValidPercentage(dec("12.500")))
	assert.False(t, ValidPercentage(dec("0.004")), "finer than cents cannot be stored")
}
