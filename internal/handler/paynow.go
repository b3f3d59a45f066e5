package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxi/internal/repository"
	"taxi/internal/service"
)

// PaynowHandler handles the gateway-facing and browser-facing Paynow endpoints.
type PaynowHandler struct {
	reconcileService *service.ReconcileService
}

// NewPaynowHandler creates a new PaynowHandler.
func NewPaynowHandler(reconcileService *service.ReconcileService) *PaynowHandler {
	return &PaynowHandler{reconcileService: reconcileService}
}

// PollResponse is the HTTP response for a status poll.
type PollResponse struct {
	Paid    bool   `json:"paid"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReturnResponse is the HTTP response for the browser return page.
type ReturnResponse struct {
	Found      bool             `json:"found"`
	Payment    *PaymentResponse `json:"payment,omitempty"`
	Booking    *BookingResponse `json:"booking,omitempty"`
	ETAMinutes *int             `json:"eta_minutes,omitempty"`
	MapsURL    string           `json:"maps_url,omitempty"`
	PollPath   string           `json:"poll_path,omitempty"`
	OwnerPhone string           `json:"owner_phone,omitempty"`
	Message    string           `json:"message,omitempty"`
}

// Result handles POST /paynow/result
func (h *PaynowHandler) Result(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unable to read request body"})
		return
	}

	if _, err := h.reconcileService.HandleWebhook(c.Request.Context(), body, c.Request.Header); err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			c.JSON(http.StatusForbidden, gin.H{"detail": "Invalid signature"})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to process notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Return handles GET /paynow/return
func (h *PaynowHandler) Return(c *gin.Context) {
	summary, err := h.reconcileService.Return(c.Request.Context(), service.ReturnRequest{
		Reference: c.Query("reference"),
		SessionID: sessionID(c, false),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ReturnResponse{
		Found:      summary.Found,
		Payment:    toPaymentResponse(summary.Payment, false),
		Booking:    toBookingResponse(summary.Booking),
		ETAMinutes: summary.ETAMinutes,
		MapsURL:    summary.MapsURL,
		PollPath:   summary.PollPath,
		OwnerPhone: summary.OwnerPhone,
		Message:    summary.Message,
	})
}

// Poll handles GET /paynow/poll/:id
func (h *PaynowHandler) Poll(c *gin.Context) {
	status, err := h.reconcileService.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "payment not found"})
		case errors.Is(err, service.ErrNoPollURL):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no_poll_url", Message: "No poll URL available for this payment."})
		case errors.Is(err, service.ErrPollFailed):
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "poll_failed", Message: err.Error()})
		default:
			respondError(c, err)
		}
		return
	}

	respondJSON(c, http.StatusOK, PollResponse{
		Paid:    status.Paid,
		Status:  status.Status,
		Message: status.Message,
	})
}
