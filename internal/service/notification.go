package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taxi/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationOwner               NotificationType = "owner"
	NotificationCustomer            NotificationType = "customer"
	NotificationPaymentConfirmation NotificationType = "payment_confirmation"
)

// Payment status labels used in notification text.
const (
	NotifyStatusPaid         = "PAID"
	NotifyStatusPayOnArrival = "PAY ON ARRIVAL"
)

// Notification represents an email to be sent.
type Notification struct {
	Type          NotificationType `json:"type"`
	Recipient     string           `json:"recipient"`
	Subject       string           `json:"subject"`
	Body          string           `json:"body"`
	BookingID     string           `json:"booking_id"`
	PaymentStatus string           `json:"payment_status,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Notifier sends booking and payment notifications. Callers treat it as
// fire-and-forget: errors are logged, never propagated to the customer.
type Notifier interface {
	SendOwnerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error
	SendCustomerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error
	SendPaymentConfirmation(ctx context.Context, booking *domain.Booking) error
}

// Dispatcher delivers a formatted notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// EventPublisher publishes a JSON message under a routing key.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// QueueDispatcher hands notifications to the message broker for the email worker.
type QueueDispatcher struct {
	publisher EventPublisher
}

// NewQueueDispatcher creates a new QueueDispatcher.
func NewQueueDispatcher(publisher EventPublisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher}
}

// Dispatch publishes n with routing key notification.email.<type>.
func (d *QueueDispatcher) Dispatch(ctx context.Context, n Notification) error {
	return d.publisher.PublishJSON(ctx, "notification.email."+string(n.Type), n)
}

// LogDispatcher writes notifications to the log instead of sending them.
type LogDispatcher struct {
	logger logrus.FieldLogger
}

// NewLogDispatcher creates a new LogDispatcher.
func NewLogDispatcher(logger logrus.FieldLogger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the notification.
func (d *LogDispatcher) Dispatch(ctx context.Context, n Notification) error {
	d.logger.WithFields(logrus.Fields{
		"type":           n.Type,
		"recipient":      n.Recipient,
		"subject":        n.Subject,
		"booking_id":     n.BookingID,
		"payment_status": n.PaymentStatus,
	}).Info("notification")
	return nil
}

// NotificationService formats booking emails and hands them to a Dispatcher.
type NotificationService struct {
	dispatcher Dispatcher
	ownerEmail string
	logger     logrus.FieldLogger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(dispatcher Dispatcher, ownerEmail string, logger logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		ownerEmail: ownerEmail,
		logger:     logger,
	}
}

// SendOwnerNotification tells the taxi owner about a booking.
func (s *NotificationService) SendOwnerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error {
	if s.ownerEmail == "" {
		s.logger.WithField("booking_id", booking.ID).Warn("owner email not configured, skipping owner notification")
		return nil
	}
	return s.send(ctx, Notification{
		Type:          NotificationOwner,
		Recipient:     s.ownerEmail,
		Subject:       fmt.Sprintf("New taxi booking %s (%s)", shortID(booking.ID), paymentStatus),
		Body:          bookingBody(booking, paymentStatus),
		BookingID:     booking.ID,
		PaymentStatus: paymentStatus,
	})
}

// SendCustomerNotification acknowledges a booking to the customer.
func (s *NotificationService) SendCustomerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error {
	return s.send(ctx, Notification{
		Type:          NotificationCustomer,
		Recipient:     booking.Email,
		Subject:       "Your taxi booking " + shortID(booking.ID),
		Body:          "Thank you for booking with us.\n\n" + bookingBody(booking, paymentStatus),
		BookingID:     booking.ID,
		PaymentStatus: paymentStatus,
	})
}

// SendPaymentConfirmation tells the customer their payment was received.
func (s *NotificationService) SendPaymentConfirmation(ctx context.Context, booking *domain.Booking) error {
	return s.send(ctx, Notification{
		Type:          NotificationPaymentConfirmation,
		Recipient:     booking.Email,
		Subject:       "Payment received for booking " + shortID(booking.ID),
		Body:          "We have received your payment. Your booking is confirmed.\n\n" + bookingBody(booking, NotifyStatusPaid),
		BookingID:     booking.ID,
		PaymentStatus: NotifyStatusPaid,
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("notification %s for booking %s has no recipient", n.Type, n.BookingID)
	}
	n.CreatedAt = time.Now().UTC()
	if err := s.dispatcher.Dispatch(ctx, n); err != nil {
		return fmt.Errorf("dispatch %s notification: %w", n.Type, err)
	}
	return nil
}

func bookingBody(b *domain.Booking, paymentStatus string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Booking ID: %s\n", b.ID)
	fmt.Fprintf(&sb, "Pickup: %s\n", b.Pickup.Address)
	fmt.Fprintf(&sb, "Dropoff: %s\n", b.Dropoff.Address)
	fmt.Fprintf(&sb, "Distance: %s km\n", b.DistanceKm.StringFixed(1))
	fmt.Fprintf(&sb, "Passengers: %d adults, %d kids seated, %d kids carried\n", b.NumAdults, b.NumKidsSeated, b.NumKidsCarried)
	fmt.Fprintf(&sb, "Luggage: %d\n", b.LuggageCount)
	fmt.Fprintf(&sb, "Phone: %s\n", b.Phone)
	fmt.Fprintf(&sb, "Email: %s\n", b.Email)
	fmt.Fprintf(&sb, "Total: $%s\n", b.TotalAmount.StringFixed(2))
	fmt.Fprintf(&sb, "Payment: %s\n", paymentStatus)
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// notifySafely runs fn and logs any error.
func notifySafely(logger logrus.FieldLogger, what, bookingID string, fn func() error) {
	if err := fn(); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"notification": what,
			"booking_id":   bookingID,
		}).Error("notification failed")
	}
}
