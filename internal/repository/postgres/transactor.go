package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"taxi/internal/repository"
)

// Transactor runs units of work in a PostgreSQL transaction.
type Transactor struct {
	db *sql.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *sql.DB) *Transactor {
	return &Transactor{db: db}
}

type txStore struct {
	bookings *BookingRepository
	payments *PaymentRepository
}

func (s *txStore) Bookings() repository.BookingRepository { return s.bookings }
func (s *txStore) Payments() repository.PaymentRepository { return s.payments }

// WithinTx begins a transaction, runs fn with repositories bound to it, and
// commits only if fn succeeds.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) (err error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	store := &txStore{
		bookings: NewBookingRepositoryWithTx(tx),
		payments: NewPaymentRepositoryWithTx(tx),
	}
	if err = fn(ctx, store); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ repository.Transactor = (*Transactor)(nil)
