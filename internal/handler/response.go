package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"taxi/internal/domain"
	"taxi/internal/pricing"
	"taxi/internal/repository"
	"taxi/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(code, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, pricing.ErrInvalidInput),
		errors.Is(err, service.ErrInvalidBooking),
		errors.Is(err, service.ErrInvalidPaymentOption),
		errors.Is(err, service.ErrInvalidPaymentID),
		errors.Is(err, service.ErrDistanceUnavailable),
		errors.Is(err, service.ErrNoPollURL):
		return http.StatusBadRequest

	// Signature failures
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusForbidden

	// Upstream gateway errors
	case errors.Is(err, service.ErrPaymentInitiationFailed):
		return http.StatusBadGateway

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// money renders an amount as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// PaymentResponse is the HTTP representation of a payment.
type PaymentResponse struct {
	ID                string                   `json:"id"`
	BookingID         string                   `json:"booking_id"`
	Method            string                   `json:"method"`
	Amount            json.Number              `json:"amount"`
	Status            string                   `json:"status"`
	ProviderReference string                   `json:"provider_reference,omitempty"`
	PollPath          string                   `json:"poll_path"`
	RawPayloads       []domain.ProviderPayload `json:"raw_provider_payloads,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// BookingResponse is the HTTP representation of a booking.
type BookingResponse struct {
	ID             string           `json:"id"`
	Pickup         domain.Location  `json:"pickup"`
	Dropoff        domain.Location  `json:"dropoff"`
	DistanceKm     json.Number      `json:"distance_km"`
	NumAdults      int              `json:"num_adults"`
	NumKidsSeated  int              `json:"num_kids_seated"`
	NumKidsCarried int              `json:"num_kids_carried"`
	LuggageCount   int              `json:"luggage_count"`
	Phone          string           `json:"phone"`
	Email          string           `json:"email"`
	PaymentOption  string           `json:"payment_option"`
	Status         string           `json:"status"`
	PriceBreakdown domain.Breakdown `json:"price_breakdown"`
	TotalAmount    json.Number      `json:"total_amount"`
	CreatedAt      time.Time        `json:"created_at"`
}

func toPaymentResponse(p *domain.Payment, withAudit bool) *PaymentResponse {
	if p == nil {
		return nil
	}
	resp := &PaymentResponse{
		ID:                p.ID,
		BookingID:         p.BookingID,
		Method:            string(p.Method),
		Amount:            money(p.Amount),
		Status:            string(p.Status),
		ProviderReference: p.ProviderReference,
		PollPath:          service.PollPath(p.ID),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if withAudit {
		resp.RawPayloads = p.RawPayloads
	}
	return resp
}

func toBookingResponse(b *domain.Booking) *BookingResponse {
	if b == nil {
		return nil
	}
	return &BookingResponse{
		ID:             b.ID,
		Pickup:         b.Pickup,
		Dropoff:        b.Dropoff,
		DistanceKm:     json.Number(b.DistanceKm.String()),
		NumAdults:      b.NumAdults,
		NumKidsSeated:  b.NumKidsSeated,
		NumKidsCarried: b.NumKidsCarried,
		LuggageCount:   b.LuggageCount,
		Phone:          b.Phone,
		Email:          b.Email,
		PaymentOption:  string(b.PaymentOption),
		Status:         string(b.Status),
		PriceBreakdown: b.PriceBreakdown,
		TotalAmount:    money(b.TotalAmount),
		CreatedAt:      b.CreatedAt,
	}
}
