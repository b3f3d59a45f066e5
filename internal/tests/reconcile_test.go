package tests

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/redis"
	"taxi/internal/repository"
	"taxi/internal/service"
)

// ──────────────────────────────────────────────
// 4. STATUS POLLING
// ──────────────────────────────────────────────

const testPollURL = "https://www.paynow.co.zw/interface/checkpayment/?guid=poll-1"

func (e *testEnv) seedPolling(amount string) (*domain.Booking, *domain.Payment) {
	booking, payment := e.seedPending(amount)
	_ = e.payments.SetHandles(context.Background(), payment.ID, "", testPollURL)
	payment.PollURL = testPollURL
	return booking, payment
}

func paidPoll(amount string) paynow.PollResult {
	a := decimal.RequireFromString(amount)
	return paynow.PollResult{
		Paid:              true,
		Status:            "Paid",
		Amount:            &a,
		ProviderReference: "PN-2020",
		Structured:        true,
		Raw:               map[string]string{"status": "Paid", "amount": amount, "paynowreference": "PN-2020"},
	}
}

func TestPoll_PaidConfirmsBooking(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	booking, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paidPoll("25.00"), nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.Equal(t, testPollURL, env.gateway.LastPollURL)

	stored := env.payments.Get(payment.ID)
	assert.Equal(t, domain.PaymentStatusPaid, stored.Status)
	assert.Equal(t, "PN-2020", stored.ProviderReference)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, domain.PayloadSourcePoll, stored.RawPayloads[0].Source)

	b, _ := env.bookings.GetByID(context.Background(), booking.ID)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	assert.Equal(t, 1, env.notifier.Count(service.NotificationPaymentConfirmation))

	assert.False(t, env.locks.IsLocked(payment.ID), "lock released after polling")
	assert.Equal(t, int32(1), env.locks.ReleaseCallCount)
}

func TestPoll_AlreadyPaidSkipsGateway(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	require.NoError(t, env.payments.UpdateStatus(context.Background(), payment.ID, domain.PaymentStatusPaid))

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.Equal(t, service.MessageAlreadyConfirmed, status.Message)
	assert.Equal(t, int32(0), env.gateway.PollCallCount)
}

func TestPoll_NoPollURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPending("25.00")

	_, err := env.reconcile.Poll(context.Background(), payment.ID)
	assert.ErrorIs(t, err, service.ErrNoPollURL)
	assert.Equal(t, int32(0), env.gateway.PollCallCount)
}

func TestPoll_ComposesURLFromProviderReference(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPending("25.00")
	require.NoError(t, env.payments.SetProviderReference(context.Background(), payment.ID, "PN-31"))
	env.gateway.SetPollResult(paynow.PollResult{Status: "Sent", Structured: true}, nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)
	assert.Equal(t, env.gateway.CheckPaymentURL("PN-31"), env.gateway.LastPollURL)
}

func TestPoll_UnknownPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.reconcile.Poll(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = env.reconcile.Poll(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPoll_ConcurrentPollIsRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.locks.ForceAcquireFailure = true

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)
	assert.Equal(t, service.MessagePollInProgress, status.Message)
	assert.Equal(t, int32(0), env.gateway.PollCallCount)
}

func TestPoll_LockStoreDownStillPolls(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.locks.AcquireError = errors.New("redis: connection refused")
	env.gateway.SetPollResult(paidPoll("25.00"), nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.True(t, status.Paid)
	assert.Equal(t, int32(0), env.locks.ReleaseCallCount)
}

func TestPoll_ExpiredLockIsNotReleasedFromUnderNewHolder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paynow.PollResult{Status: "Sent", Structured: true}, nil)
	// The poll outlives its lock and a second poll takes it over.
	env.gateway.OnPoll = func() {
		env.locks.Expire(payment.ID)
		_, ok, err := env.locks.AcquirePollLock(context.Background(), payment.ID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), env.locks.ReleaseCallCount)
	assert.True(t, env.locks.IsLocked(payment.ID), "second poll keeps its lock")
}

func TestPoll_TransportError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paynow.PollResult{}, errors.New("dial tcp: i/o timeout"))

	_, err := env.reconcile.Poll(context.Background(), payment.ID)
	assert.ErrorIs(t, err, service.ErrPollFailed)
	assert.Equal(t, domain.PaymentStatusPending, env.payments.Get(payment.ID).Status)
	assert.False(t, env.locks.IsLocked(payment.ID))
}

func TestPoll_InconclusiveAnswerChangesNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	// A scraped page that merely mentions failure is not a structured answer.
	env.gateway.SetPollResult(paynow.PollResult{Status: "Cancelled", Structured: false}, nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)

	stored := env.payments.Get(payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
	assert.Empty(t, stored.RawPayloads)
	assert.Equal(t, int32(0), env.tx.TxCallCount)
}

func TestPoll_StructuredFailureFailsPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paynow.PollResult{Status: "Cancelled", Structured: true, Raw: map[string]string{"status": "Cancelled"}}, nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)
	assert.Equal(t, domain.PaymentStatusFailed, env.payments.Get(payment.ID).Status)
}

func TestPoll_AmountMismatch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paidPoll("2.50"), nil)

	status, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)
	assert.False(t, status.Paid)
	assert.Equal(t, string(domain.PaymentStatusFailed), status.Status)
	assert.Equal(t, service.ErrAmountMismatch.Error(), status.Message)
	assert.Equal(t, domain.PaymentStatusFailed, env.payments.Get(payment.ID).Status)
	assert.Empty(t, env.notifier.Sent())
}

func TestPoll_StructuredStatusIsPassedThrough(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	// A structured answer flagged paid must still carry a paid status.
	env.gateway.SetPollResult(paynow.PollResult{
		Paid:       true,
		Status:     "Unsuccessful",
		Structured: true,
		Raw:        map[string]string{"status": "Unsuccessful"},
	}, nil)

	_, err := env.reconcile.Poll(context.Background(), payment.ID)
	require.NoError(t, err)

	stored := env.payments.Get(payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, stored.Status)
	assert.Empty(t, stored.RawPayloads)
	assert.Empty(t, env.notifier.Sent())
}

func TestPoll_NegativeGatewayStatusesNeverConfirm(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
	}{
		{"form unsuccessful", "reference=r&amount=25.00&status=Unsuccessful"},
		{"json payment unsuccessful", `{"status": "Payment unsuccessful", "amount": "25.00"}`},
		{"form completed", "reference=r&amount=25.00&status=Completed"},
		{"html not successful", "<html><p>Payment not successful</p></html>"},
		{"html not completed", "<html><p>Transaction not completed</p></html>"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			env := newTestEnv(t)
			booking, payment := env.seedPending("25.00")
			require.NoError(t, env.payments.SetHandles(context.Background(), payment.ID, "", server.URL))

			logger, _ := logtest.NewNullLogger()
			client := paynow.NewClient(paynow.Config{
				IntegrationID:  "1234",
				IntegrationKey: testIntegrationKey,
				PollTimeout:    time.Second,
			})
			reconcile := service.NewReconcileService(
				service.ReconcileConfig{PollLockTTL: 5 * time.Second},
				env.bookings,
				env.payments,
				service.NewReferenceResolver(env.payments),
				paynow.NewVerifier(testIntegrationKey),
				client,
				env.machine,
				env.locks,
				env.sessions,
				service.NewSummaryBuilder(service.DefaultAverageSpeedKmh, testOwnerPhone),
				logger,
			)

			status, err := reconcile.Poll(context.Background(), payment.ID)
			require.NoError(t, err)
			assert.False(t, status.Paid)

			assert.Equal(t, domain.PaymentStatusPending, env.payments.Get(payment.ID).Status)
			b, _ := env.bookings.GetByID(context.Background(), booking.ID)
			assert.Equal(t, domain.BookingStatusPending, b.Status)
			assert.Empty(t, env.notifier.Sent())
		})
	}
}

// ──────────────────────────────────────────────
// 5. BROWSER RETURN
// ──────────────────────────────────────────────

func TestReturn_ByReferencePollsPendingPayment(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	booking, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paidPoll("25.00"), nil)

	summary, err := env.reconcile.Return(context.Background(), service.ReturnRequest{Reference: payment.ID})
	require.NoError(t, err)
	require.True(t, summary.Found)
	assert.Equal(t, domain.PaymentStatusPaid, summary.Payment.Status)
	assert.Equal(t, service.MessagePaymentConfirmed, summary.Message)
	assert.Equal(t, booking.ID, summary.Booking.ID)
	assert.Equal(t, "/paynow/poll/"+payment.ID, summary.PollPath)
	assert.Equal(t, testOwnerPhone, summary.OwnerPhone)
	require.NotNil(t, summary.ETAMinutes)
	assert.Equal(t, 30, *summary.ETAMinutes)
	assert.Contains(t, summary.MapsURL, "origin=-17.8292,31.0522")

	stored := env.payments.Get(payment.ID)
	require.Len(t, stored.RawPayloads, 1)
	assert.Equal(t, domain.PayloadSourceReturn, stored.RawPayloads[0].Source)
}

func TestReturn_PollFailureStillRendersSummary(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, payment := env.seedPolling("25.00")
	env.gateway.SetPollResult(paynow.PollResult{}, errors.New("connection reset"))

	summary, err := env.reconcile.Return(context.Background(), service.ReturnRequest{Reference: payment.ID})
	require.NoError(t, err)
	assert.True(t, summary.Found)
	assert.Equal(t, service.MessagePaymentAwaiting, summary.Message)
}

func TestReturn_FallsBackToSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	booking, payment := env.seedPending("25.00")
	require.NoError(t, env.sessions.Remember(context.Background(), "sess-9", redis.SessionData{
		LastPaymentID: payment.ID,
		LastBookingID: booking.ID,
	}))

	summary, err := env.reconcile.Return(context.Background(), service.ReturnRequest{Reference: "unknown", SessionID: "sess-9"})
	require.NoError(t, err)
	require.True(t, summary.Found)
	assert.Equal(t, payment.ID, summary.Payment.ID)

	_, stillThere := env.sessions.Peek("sess-9")
	assert.False(t, stillThere, "session entry is consumed")
}

func TestReturn_NothingToShow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedPending("25.00")

	summary, err := env.reconcile.Return(context.Background(), service.ReturnRequest{SessionID: "no-such-session"})
	require.NoError(t, err)
	assert.False(t, summary.Found)
	assert.Equal(t, service.MessageReturnNotFound, summary.Message)
	assert.Equal(t, testOwnerPhone, summary.OwnerPhone)
}

func TestReturn_SessionStoreErrorIsIgnored(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.sessions.TakeError = errors.New("redis: timeout")

	summary, err := env.reconcile.Return(context.Background(), service.ReturnRequest{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.False(t, summary.Found)
}
