package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxi/internal/domain"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, n)
	return nil
}

type recordingPublisher struct {
	routingKey string
	payload    any
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, routingKey string, v any) error {
	p.routingKey = routingKey
	p.payload = v
	return nil
}

func testBooking() *domain.Booking {
	return &domain.Booking{
		ID:          "0f8fad5b-d9cb-469f-a165-70867728950e",
		Pickup:      domain.Location{Address: "Avondale"},
		Dropoff:     domain.Location{Address: "Borrowdale"},
		DistanceKm:  decimal.NewFromInt(14),
		NumAdults:   2,
		Phone:       "+263771111111",
		Email:       "rider@example.com",
		TotalAmount: decimal.NewFromInt(25),
	}
}

func TestNotificationService_OwnerAndCustomer(t *testing.T) {
	t.Parallel()

	logger, _ := logtest.NewNullLogger()
	d := &recordingDispatcher{}
	s := NewNotificationService(d, "owner@example.com", logger)

	require.NoError(t, s.SendOwnerNotification(context.Background(), testBooking(), NotifyStatusPayOnArrival))
	require.NoError(t, s.SendCustomerNotification(context.Background(), testBooking(), NotifyStatusPayOnArrival))
	require.NoError(t, s.SendPaymentConfirmation(context.Background(), testBooking()))

	require.Len(t, d.sent, 3)
	assert.Equal(t, NotificationOwner, d.sent[0].Type)
	assert.Equal(t, "owner@example.com", d.sent[0].Recipient)
	assert.Equal(t, "New taxi booking 0f8fad5b (PAY ON ARRIVAL)", d.sent[0].Subject)
	assert.Contains(t, d.sent[0].Body, "Total: $25.00")
	assert.Contains(t, d.sent[0].Body, "Payment: PAY ON ARRIVAL")

	assert.Equal(t, NotificationCustomer, d.sent[1].Type)
	assert.Equal(t, "rider@example.com", d.sent[1].Recipient)

	assert.Equal(t, NotificationPaymentConfirmation, d.sent[2].Type)
	assert.Equal(t, NotifyStatusPaid, d.sent[2].PaymentStatus)
	assert.False(t, d.sent[2].CreatedAt.IsZero())
}

func TestNotificationService_OwnerEmailUnset(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	d := &recordingDispatcher{}
	s := NewNotificationService(d, "", logger)

	require.NoError(t, s.SendOwnerNotification(context.Background(), testBooking(), NotifyStatusPaid))
	assert.Empty(t, d.sent)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNotificationService_Errors(t *testing.T) {
	t.Parallel()

	logger, _ := logtest.NewNullLogger()
	d := &recordingDispatcher{err: errors.New("broker down")}
	s := NewNotificationService(d, "owner@example.com", logger)

	err := s.SendPaymentConfirmation(context.Background(), testBooking())
	assert.ErrorContains(t, err, "broker down")

	noEmail := testBooking()
	noEmail.Email = ""
	err = s.SendCustomerNotification(context.Background(), noEmail, NotifyStatusPaid)
	assert.ErrorContains(t, err, "no recipient")
}

func TestQueueDispatcher_RoutingKey(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{}
	n := Notification{Type: NotificationPaymentConfirmation, Recipient: "rider@example.com"}

	require.NoError(t, NewQueueDispatcher(p).Dispatch(context.Background(), n))
	assert.Equal(t, "notification.email.payment_confirmation", p.routingKey)
	assert.Equal(t, n, p.payload)
}

func TestNotifySafelyLogsFailures(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	notifySafely(logger, "owner", "b-1", func() error { return errors.New("smtp down") })

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "owner", entry.Data["notification"])
	assert.Equal(t, "b-1", entry.Data["booking_id"])
}
