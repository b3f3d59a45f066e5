package repository

import "context"

// Store groups repositories bound to the same transaction.
type Store interface {
	Bookings() BookingRepository
	Payments() PaymentRepository
}

// Transactor runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
