package repository

import (
	"context"

	"taxi/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
// Listing methods return the newest payment first.
type PaymentRepository interface {
	// Create persists a new payment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByIDForUpdate retrieves a payment and locks its row until the
	// surrounding transaction ends.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error)

	// ListByProviderReference returns payments carrying the gateway reference.
	ListByProviderReference(ctx context.Context, ref string) ([]*domain.Payment, error)

	// SearchPayloads returns payments whose audit log contains fragment.
	SearchPayloads(ctx context.Context, fragment string, limit int) ([]*domain.Payment, error)

	// ListByBooking returns every payment attempt for a booking.
	ListByBooking(ctx context.Context, bookingID string) ([]*domain.Payment, error)

	// UpdateStatus updates the status of a payment.
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error

	// SetProviderReference records the gateway reference unless one is
	// already set.
	SetProviderReference(ctx context.Context, id, ref string) error

	// SetHandles records the redirect and poll URLs returned at initiation.
	SetHandles(ctx context.Context, id, redirectURL, pollURL string) error

	// AppendPayload appends an entry to the payment's audit log.
	AppendPayload(ctx context.Context, id string, payload domain.ProviderPayload) error
}
