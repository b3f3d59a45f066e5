package tests

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/pricing"
	"taxi/internal/repository"
	"taxi/internal/service"
)

// ──────────────────────────────────────────────
// 3. BOOKING CREATION
// ──────────────────────────────────────────────

func bookingRequest(option domain.PaymentOption) service.CreateBookingRequest {
	km := decimal.NewFromInt(14)
	return service.CreateBookingRequest{
		TripRequest: service.TripRequest{
			Pickup:     domain.Location{Address: "Avondale"},
			Dropoff:    domain.Location{Address: "Borrowdale"},
			DistanceKm: &km,
			NumAdults:  1,
		},
		Phone:         "+263771111111",
		Email:         "rider@example.com",
		PaymentOption: option,
		SessionID:     "session-1",
	}
}

func TestBooking_PayOnArrivalIsConfirmedImmediately(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionOnArrival))
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusConfirmed, result.Booking.Status)
	assert.True(t, result.Booking.TotalAmount.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, domain.PaymentMethodOnArrival, result.Payment.Method)
	assert.Equal(t, domain.PaymentStatusPending, result.Payment.Status)
	assert.Equal(t, service.MessagePayOnArrival, result.Message)
	assert.Empty(t, result.RedirectURL)

	assert.Equal(t, int32(0), env.gateway.CreateCallCount)
	assert.Equal(t, 1, env.notifier.Count(service.NotificationOwner))
	assert.Equal(t, 1, env.notifier.Count(service.NotificationCustomer))
	for _, n := range env.notifier.Sent() {
		assert.Equal(t, service.NotifyStatusPayOnArrival, n.PaymentStatus)
	}
	_, remembered := env.sessions.Peek("session-1")
	assert.False(t, remembered)
}

func TestBooking_PaynowInitiationStoresHandles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusPending, result.Booking.Status)
	assert.Equal(t, service.MessageRedirecting, result.Message)
	assert.NotEmpty(t, result.RedirectURL)
	assert.NotEmpty(t, result.PollURL)

	req := env.gateway.LastInitRequest
	assert.Equal(t, result.Payment.ID, req.Reference)
	assert.True(t, req.Amount.Equal(result.Booking.TotalAmount))
	assert.Equal(t, "rider@example.com", req.Email)

	stored := env.payments.Get(result.Payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
	assert.Equal(t, result.RedirectURL, stored.RedirectURL)
	assert.Equal(t, result.PollURL, stored.PollURL)
	assert.Equal(t, "PN-"+result.Payment.ID[:8], stored.ProviderReference)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, domain.PayloadSourceInit, stored.RawPayloads[0].Source)

	session, ok := env.sessions.Peek("session-1")
	require.True(t, ok)
	assert.Equal(t, result.Payment.ID, session.LastPaymentID)
	assert.Equal(t, result.Booking.ID, session.LastBookingID)

	assert.Empty(t, env.notifier.Sent(), "Paynow bookings notify once paid")
}

func TestBooking_PaynowPollURLComposedFromReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.gateway.InitResult = paynow.InitSuccess{
		RedirectURL:       "https://www.paynow.co.zw/payment/confirmtransaction/x",
		ProviderReference: "PN-77",
	}

	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.NoError(t, err)
	assert.Equal(t, env.gateway.CheckPaymentURL("PN-77"), result.PollURL)
}

func TestBooking_PaynowSoftFailureStaysPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.gateway.InitResult = paynow.InitSoftFailure{
		ProviderReference: "PN-88",
		Reason:            "no redirect url in response",
		Raw:               map[string]string{"status": "Ok"},
	}

	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.NoError(t, err)
	assert.Equal(t, service.MessagePaymentPending, result.Message)
	assert.Empty(t, result.RedirectURL)

	stored := env.payments.Get(result.Payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
	assert.Equal(t, "PN-88", stored.ProviderReference)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, "no redirect url in response", stored.RawPayloads[0].Data["_error"])
}

func TestBooking_PaynowAmbiguousFailureStaysPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.gateway.InitResult = paynow.InitHardFailure{Kind: paynow.FailureTimeout, Message: "deadline exceeded"}

	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.NoError(t, err)
	assert.Equal(t, service.MessagePaymentPending, result.Message)

	stored := env.payments.Get(result.Payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, "timeout", stored.RawPayloads[0].Data["_error"])
}

func TestBooking_PaynowRejectedFailsPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.gateway.InitResult = paynow.InitHardFailure{Kind: paynow.FailureRejected, Message: "Invalid integration"}

	result, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrPaymentInitiationFailed))
	require.NotNil(t, result)

	stored := env.payments.Get(result.Payment.ID)
	assert.Equal(t, domain.PaymentStatusFailed, stored.Status)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, "Invalid integration", stored.RawPayloads[0].Data["message"])

	b, err := env.bookings.GetByID(context.Background(), result.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
}

func TestBooking_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(r *service.CreateBookingRequest)
		wantErr error
	}{
		{"unknown payment option", func(r *service.CreateBookingRequest) { r.PaymentOption = "CARD" }, service.ErrInvalidPaymentOption},
		{"missing pickup", func(r *service.CreateBookingRequest) { r.Pickup.Address = " " }, service.ErrInvalidBooking},
		{"missing dropoff", func(r *service.CreateBookingRequest) { r.Dropoff.Address = "" }, service.ErrInvalidBooking},
		{"missing phone", func(r *service.CreateBookingRequest) { r.Phone = "" }, service.ErrInvalidBooking},
		{"bad email", func(r *service.CreateBookingRequest) { r.Email = "not-an-email" }, service.ErrInvalidBooking},
		{"no distance", func(r *service.CreateBookingRequest) { r.DistanceKm = nil }, service.ErrDistanceUnavailable},
		{"no adults", func(r *service.CreateBookingRequest) { r.NumAdults = 0 }, pricing.ErrInvalidInput},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t)
			req := bookingRequest(domain.PaymentOptionOnArrival)
			tc.mutate(&req)

			_, err := env.booking.CreateBooking(context.Background(), req)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, env.bookings.Count())
		})
	}
}

func TestBooking_DistanceFromCoordinates(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	req := bookingRequest(domain.PaymentOptionOnArrival)
	lat1, lng1, lat2, lng2 := -17.80, 31.04, -17.76, 31.09
	req.DistanceKm = nil
	req.Pickup.Lat, req.Pickup.Lng = &lat1, &lng1
	req.Dropoff.Lat, req.Dropoff.Lng = &lat2, &lng2

	result, err := env.booking.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.distance.CallCount)
	assert.True(t, result.Booking.DistanceKm.Equal(decimal.NewFromInt(18)))
	assert.True(t, result.Booking.TotalAmount.Equal(decimal.NewFromInt(30)))
}

func TestBooking_DistanceLookupFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.distance.Error = errors.New("ZERO_RESULTS")
	req := bookingRequest(domain.PaymentOptionOnArrival)
	lat, lng := -17.8, 31.0
	req.DistanceKm = nil
	req.Pickup.Lat, req.Pickup.Lng = &lat, &lng
	req.Dropoff.Lat, req.Dropoff.Lng = &lat, &lng

	_, err := env.booking.CreateBooking(context.Background(), req)
	assert.ErrorIs(t, err, service.ErrDistanceUnavailable)
}

func TestBooking_StorageFailureCreatesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.payments.CreateError = ErrMockDBConstraint

	_, err := env.booking.CreateBooking(context.Background(), bookingRequest(domain.PaymentOptionPaynow))
	require.ErrorIs(t, err, ErrMockDBConstraint)
	assert.Equal(t, 0, env.bookings.Count(), "booking insert is rolled back")
	assert.Equal(t, int32(0), env.gateway.CreateCallCount)
}

func TestBooking_QuoteMatchesFareRules(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	km := decimal.NewFromInt(20)
	breakdown, err := env.booking.Quote(context.Background(), service.TripRequest{
		DistanceKm:    &km,
		NumAdults:     5,
		NumKidsSeated: 2,
		LuggageCount:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "20.00", breakdown.ExtraAdultsFee.StringFixed(2))
	assert.Equal(t, "10.00", breakdown.KidsSeatedFee.StringFixed(2))
	assert.Equal(t, "5.00", breakdown.LuggageFee.StringFixed(2))
	assert.Equal(t, "65.00", breakdown.Total.StringFixed(2))
	assert.Equal(t, 0, env.bookings.Count())
}

func TestBooking_GetBookingListsPayments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	booking, payment := env.seedPending("30.00")

	details, err := env.booking.GetBooking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, details.Booking.ID)
	require.Len(t, details.Payments, 1)
	assert.Equal(t, payment.ID, details.Payments[0].ID)

	_, err = env.booking.GetBooking(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
