package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/pricing"
	"taxi/internal/service"
)

const (
	testIntegrationKey = "test-integration-key"
	testOwnerPhone     = "+263 77 123 4567"
)

// testEnv wires the booking and reconciliation services over mocks.
type testEnv struct {
	bookings *MockBookingRepository
	payments *MockPaymentRepository
	tx       *MockTransactor
	gateway  *MockGateway
	distance *MockDistance
	notifier *MockNotifier
	locks    *MockLockStore
	sessions *MockSessionStore
	logs     *logtest.Hook

	machine   *service.PaymentStateMachine
	booking   *service.BookingService
	reconcile *service.ReconcileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		bookings: NewMockBookingRepository(),
		payments: NewMockPaymentRepository(),
		gateway:  NewMockGateway(),
		distance: &MockDistance{Km: decimal.NewFromInt(18)},
		notifier: NewMockNotifier(),
		locks:    NewMockLockStore(),
		sessions: NewMockSessionStore(),
		logs:     hook,
	}
	env.tx = NewMockTransactor(env.bookings, env.payments)

	env.machine = service.NewPaymentStateMachine(env.tx, env.notifier, logger)
	env.booking = service.NewBookingService(
		env.tx,
		env.bookings,
		env.payments,
		pricing.NewCalculator(pricing.DefaultConfig()),
		env.distance,
		env.gateway,
		env.machine,
		env.notifier,
		env.sessions,
		logger,
	)
	env.reconcile = service.NewReconcileService(
		service.ReconcileConfig{PollLockTTL: 5 * time.Second, PollOnReturn: true},
		env.bookings,
		env.payments,
		service.NewReferenceResolver(env.payments),
		paynow.NewVerifier(testIntegrationKey),
		env.gateway,
		env.machine,
		env.locks,
		env.sessions,
		service.NewSummaryBuilder(service.DefaultAverageSpeedKmh, testOwnerPhone),
		logger,
	)
	return env
}

// seedPending stores a pending booking and a pending Paynow payment for it.
func (e *testEnv) seedPending(amount string) (*domain.Booking, *domain.Payment) {
	total := decimal.RequireFromString(amount)
	lat1, lng1, lat2, lng2 := -17.8292, 31.0522, -17.9318, 31.0928
	now := time.Now().UTC()

	booking := &domain.Booking{
		ID:            uuid.New().String(),
		Pickup:        domain.Location{Address: "Harare CBD", Lat: &lat1, Lng: &lng1},
		Dropoff:       domain.Location{Address: "RG Mugabe Airport", Lat: &lat2, Lng: &lng2},
		DistanceKm:    decimal.NewFromInt(20),
		NumAdults:     1,
		Phone:         "+263770000000",
		Email:         "rider@example.com",
		PaymentOption: domain.PaymentOptionPaynow,
		Status:        domain.BookingStatusPending,
		TotalAmount:   total,
		CreatedAt:     now,
	}
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		BookingID: booking.ID,
		Method:    domain.PaymentMethodPaynow,
		Amount:    total,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
	}
	e.bookings.AddBooking(booking)
	e.payments.AddPayment(payment)
	return booking, payment
}

// signed returns the raw form body and a header carrying its signature.
func signed(body string) ([]byte, http.Header) {
	header := http.Header{}
	header.Set(paynow.SignatureHeader, paynow.Sign([]byte(body), testIntegrationKey))
	return []byte(body), header
}

// hasLog reports whether an entry at level with the given message was logged.
func hasLog(hook *logtest.Hook, level logrus.Level, msg string) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == level && entry.Message == msg {
			return true
		}
	}
	return false
}
