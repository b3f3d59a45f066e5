package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taxi/internal/domain"
	"taxi/internal/repository"
)

// BookingRepository is a PostgreSQL implementation of repository.BookingRepository.
type BookingRepository struct {
	q Querier
}

// NewBookingRepository creates a new PostgreSQL booking repository.
func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{q: db}
}

// NewBookingRepositoryWithTx creates a booking repository using a transaction.
func NewBookingRepositoryWithTx(tx *sql.Tx) *BookingRepository {
	return &BookingRepository{q: tx}
}

const bookingColumns = `
	id, pickup_address, pickup_lat, pickup_lng, dropoff_address, dropoff_lat, dropoff_lng,
	distance_km, num_adults, num_kids_seated, num_kids_carried, luggage_count,
	phone, email, payment_option, status, price_breakdown, total_amount, created_at, updated_at`

// Create persists a new booking.
func (r *BookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	breakdown, err := json.Marshal(booking.PriceBreakdown)
	if err != nil {
		return fmt.Errorf("marshal price breakdown: %w", err)
	}

	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = booking.CreatedAt

	_, err = r.q.ExecContext(ctx, query,
		booking.ID,
		booking.Pickup.Address,
		nullFloat(booking.Pickup.Lat),
		nullFloat(booking.Pickup.Lng),
		booking.Dropoff.Address,
		nullFloat(booking.Dropoff.Lat),
		nullFloat(booking.Dropoff.Lng),
		booking.DistanceKm,
		booking.NumAdults,
		booking.NumKidsSeated,
		booking.NumKidsCarried,
		booking.LuggageCount,
		booking.Phone,
		booking.Email,
		booking.PaymentOption,
		booking.Status,
		breakdown,
		booking.TotalAmount,
		booking.CreatedAt,
		booking.UpdatedAt,
	)

	return err
}

// GetByID retrieves a booking by ID.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var (
		booking                                      domain.Booking
		pickupLat, pickupLng, dropoffLat, dropoffLng sql.NullFloat64
		breakdown                                    []byte
	)
	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&booking.ID,
		&booking.Pickup.Address,
		&pickupLat,
		&pickupLng,
		&booking.Dropoff.Address,
		&dropoffLat,
		&dropoffLng,
		&booking.DistanceKm,
		&booking.NumAdults,
		&booking.NumKidsSeated,
		&booking.NumKidsCarried,
		&booking.LuggageCount,
		&booking.Phone,
		&booking.Email,
		&booking.PaymentOption,
		&booking.Status,
		&breakdown,
		&booking.TotalAmount,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	booking.Pickup.Lat = floatPtr(pickupLat)
	booking.Pickup.Lng = floatPtr(pickupLng)
	booking.Dropoff.Lat = floatPtr(dropoffLat)
	booking.Dropoff.Lng = floatPtr(dropoffLng)

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &booking.PriceBreakdown); err != nil {
			return nil, fmt.Errorf("unmarshal price breakdown: %w", err)
		}
	}

	return &booking, nil
}

// UpdateStatus updates the status of a booking.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	query := `UPDATE bookings SET status = $1, updated_at = NOW() WHERE id = $2`

	result, err := r.q.ExecContext(ctx, query, status, id)
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

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
