package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further transition may leave this status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// PaymentMethod identifies how a payment is collected.
type PaymentMethod string

const (
	PaymentMethodOnArrival PaymentMethod = "POA"
	PaymentMethodPaynow    PaymentMethod = "PAYNOW"
)

// PayloadSource names the channel a provider payload arrived on.
type PayloadSource string

const (
	PayloadSourceInit    PayloadSource = "init"
	PayloadSourceWebhook PayloadSource = "webhook"
	PayloadSourcePoll    PayloadSource = "poll"
	PayloadSourceReturn  PayloadSource = "return"
)

// ProviderPayload is one entry of a payment's audit log.
type ProviderPayload struct {
	Source     PayloadSource     `json:"source"`
	ReceivedAt time.Time         `json:"received_at"`
	Data       map[string]string `json:"data"`
}

// Payment is one attempt to collect money for a booking.
type Payment struct {
	ID                string
	BookingID         string
	Method            PaymentMethod
	Amount            decimal.Decimal // fixed at creation
	Status            PaymentStatus
	ProviderReference string
	PollURL           string
	RedirectURL       string
	RawPayloads       []ProviderPayload
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsPaid reports whether the payment has been confirmed.
func (p *Payment) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}

// MentionsReference reports whether any audit entry carries the given value.
func (p *Payment) MentionsReference(ref string) bool {
	for _, payload := range p.RawPayloads {
		for _, v := range payload.Data {
			if strings.Contains(v, ref) {
				return true
			}
		}
	}
	return false
}
