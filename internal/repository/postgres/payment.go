package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxi/internal/domain"
	"taxi/internal/repository"
)

// PaymentRepository is a PostgreSQL implementation of repository.PaymentRepository.
type PaymentRepository struct {
	q Querier
}

// NewPaymentRepository creates a new PostgreSQL payment repository.
func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{q: db}
}

// NewPaymentRepositoryWithTx creates a payment repository using a transaction.
func NewPaymentRepositoryWithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{q: tx}
}

const paymentColumns = `
	id, booking_id, method, amount, status, provider_reference, poll_url, redirect_url,
	raw_provider_payloads, created_at, updated_at`

// Create persists a new payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	payloads := payment.RawPayloads
	if payloads == nil {
		payloads = []domain.ProviderPayload{}
	}
	rawPayloads, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("marshal provider payloads: %w", err)
	}

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.UpdatedAt = payment.CreatedAt

	_, err = r.q.ExecContext(ctx, query,
		payment.ID,
		payment.BookingID,
		payment.Method,
		payment.Amount,
		payment.Status,
		nullString(payment.ProviderReference),
		payment.PollURL,
		payment.RedirectURL,
		rawPayloads,
		payment.CreatedAt,
		payment.UpdatedAt,
	)

	return err
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByIDForUpdate retrieves a payment and holds a row lock on it until the
// transaction ends. Outside a transaction the lock is released immediately.
func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

// ListByProviderReference returns payments carrying the gateway reference,
// newest first.
func (r *PaymentRepository) ListByProviderReference(ctx context.Context, ref string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments WHERE provider_reference = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.list(ctx, query, ref)
}

// SearchPayloads returns payments whose audit log text contains fragment,
// newest first.
func (r *PaymentRepository) SearchPayloads(ctx context.Context, fragment string, limit int) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments WHERE raw_provider_payloads::text LIKE '%' || $1 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, escapeLike(fragment), limit)
}

// ListByBooking returns every payment attempt for a booking, newest first.
func (r *PaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments WHERE booking_id = $1
		ORDER BY created_at DESC, id DESC
	`
	return r.list(ctx, query, bookingID)
}

// UpdateStatus updates the status of a payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	query := `UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2`
	return r.exec(ctx, query, status, id)
}

// SetProviderReference records the gateway reference unless one is already
// set. It is not an error when a reference already exists.
func (r *PaymentRepository) SetProviderReference(ctx context.Context, id, ref string) error {
	query := `
		UPDATE payments SET provider_reference = $1, updated_at = NOW()
		WHERE id = $2 AND (provider_reference IS NULL OR provider_reference = '')
	`
	_, err := r.q.ExecContext(ctx, query, ref, id)
	return err
}

// SetHandles records the redirect and poll URLs returned at initiation.
func (r *PaymentRepository) SetHandles(ctx context.Context, id, redirectURL, pollURL string) error {
	query := `UPDATE payments SET redirect_url = $1, poll_url = $2, updated_at = NOW() WHERE id = $3`
	return r.exec(ctx, query, redirectURL, pollURL, id)
}

// AppendPayload appends an entry to the audit log. Existing entries are
// never rewritten.
func (r *PaymentRepository) AppendPayload(ctx context.Context, id string, payload domain.ProviderPayload) error {
	entry, err := json.Marshal([]domain.ProviderPayload{payload})
	if err != nil {
		return fmt.Errorf("marshal provider payload: %w", err)
	}

	query := `
		UPDATE payments
		SET raw_provider_payloads = COALESCE(raw_provider_payloads, '[]'::jsonb) || $1::jsonb,
		    updated_at = NOW()
		WHERE id = $2
	`
	return r.exec(ctx, query, entry, id)
}

func (r *PaymentRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return repository.ErrNotFound
	}

	return nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Payment, error) {
	payment, err := scanPayment(r.q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return payment, nil
}

func (r *PaymentRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}

	return payments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		payment     domain.Payment
		providerRef sql.NullString
		rawPayloads []byte
	)
	err := row.Scan(
		&payment.ID,
		&payment.BookingID,
		&payment.Method,
		&payment.Amount,
		&payment.Status,
		&providerRef,
		&payment.PollURL,
		&payment.RedirectURL,
		&rawPayloads,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	payment.ProviderReference = providerRef.String
	if len(rawPayloads) > 0 {
		if err := json.Unmarshal(rawPayloads, &payment.RawPayloads); err != nil {
			return nil, fmt.Errorf("unmarshal provider payloads: %w", err)
		}
	}

	return &payment, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
