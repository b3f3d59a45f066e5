package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"taxi/internal/domain"
	"taxi/internal/service"
)

// SessionCookie names the browser session used to remember the last payment.
const SessionCookie = "ride_session"

const sessionCookieMaxAge = 24 * 60 * 60

// BookingHandler handles HTTP requests for quotes and bookings.
type BookingHandler struct {
	bookingService *service.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService *service.BookingService) *BookingHandler {
	return &BookingHandler{bookingService: bookingService}
}

// TripRequest is the HTTP request body shared by quotes and bookings.
type TripRequest struct {
	PickupAddress  string           `json:"pickup_address"`
	PickupLat      *float64         `json:"pickup_lat,omitempty"`
	PickupLng      *float64         `json:"pickup_lng,omitempty"`
	DropoffAddress string           `json:"dropoff_address"`
	DropoffLat     *float64         `json:"dropoff_lat,omitempty"`
	DropoffLng     *float64         `json:"dropoff_lng,omitempty"`
	DistanceKm     *decimal.Decimal `json:"distance_km,omitempty"`
	NumAdults      *int             `json:"num_adults,omitempty"` // defaults to 1
	NumKidsSeated  int              `json:"num_kids_seated"`
	NumKidsCarried int              `json:"num_kids_carried"`
	LuggageCount   int              `json:"luggage_count"`
}

// CreateBookingRequest is the HTTP request body for creating a booking.
type CreateBookingRequest struct {
	TripRequest
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	PaymentOption string `json:"payment_option"` // POA or PAYNOW
}

// CreateBookingResponse is the HTTP response for creating a booking.
type CreateBookingResponse struct {
	Booking     *BookingResponse `json:"booking"`
	Payment     *PaymentResponse `json:"payment"`
	RedirectURL string           `json:"redirect_url,omitempty"`
	PollURL     string           `json:"poll_url,omitempty"`
	PollPath    string           `json:"poll_path"`
	Message     string           `json:"message"`
}

// GetBookingResponse is the HTTP response for getting a booking.
type GetBookingResponse struct {
	Booking  *BookingResponse   `json:"booking"`
	Payments []*PaymentResponse `json:"payments"`
}

// Quote handles POST /api/price
func (h *BookingHandler) Quote(c *gin.Context) {
	var req TripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	breakdown, err := h.bookingService.Quote(c.Request.Context(), req.toService())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, breakdown)
}

// CreateBooking handles POST /api/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.bookingService.CreateBooking(c.Request.Context(), service.CreateBookingRequest{
		TripRequest:   req.toService(),
		Phone:         req.Phone,
		Email:         req.Email,
		PaymentOption: domain.PaymentOption(req.PaymentOption),
		SessionID:     sessionID(c, true),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, CreateBookingResponse{
		Booking:     toBookingResponse(result.Booking),
		Payment:     toPaymentResponse(result.Payment, false),
		RedirectURL: result.RedirectURL,
		PollURL:     result.PollURL,
		PollPath:    service.PollPath(result.Payment.ID),
		Message:     result.Message,
	})
}

// GetBooking handles GET /api/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	details, err := h.bookingService.GetBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	payments := make([]*PaymentResponse, 0, len(details.Payments))
	for _, p := range details.Payments {
		payments = append(payments, toPaymentResponse(p, false))
	}

	respondJSON(c, http.StatusOK, GetBookingResponse{
		Booking:  toBookingResponse(details.Booking),
		Payments: payments,
	})
}

func (r TripRequest) toService() service.TripRequest {
	adults := 1
	if r.NumAdults != nil {
		adults = *r.NumAdults
	}
	return service.TripRequest{
		Pickup:         domain.Location{Address: r.PickupAddress, Lat: r.PickupLat, Lng: r.PickupLng},
		Dropoff:        domain.Location{Address: r.DropoffAddress, Lat: r.DropoffLat, Lng: r.DropoffLng},
		DistanceKm:     r.DistanceKm,
		NumAdults:      adults,
		NumKidsSeated:  r.NumKidsSeated,
		NumKidsCarried: r.NumKidsCarried,
		LuggageCount:   r.LuggageCount,
	}
}

// sessionID returns the browser session id, issuing a new cookie when
// create is true and none is present.
func sessionID(c *gin.Context, create bool) string {
	if id, err := c.Cookie(SessionCookie); err == nil && id != "" {
		return id
	}
	if !create {
		return ""
	}
	id := uuid.New().String()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, id, sessionCookieMaxAge, "/", "", false, true)
	return id
}
