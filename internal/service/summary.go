package service

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"taxi/internal/domain"
)

// DefaultAverageSpeedKmh is used for ETA estimates when none is configured.
const DefaultAverageSpeedKmh = 40.0

// Messages shown on the return page.
const (
	MessageReturnNotFound = "We did not receive a payment reference from Paynow. If you completed payment, " +
		"we will confirm it by email shortly. You can also look up your booking with your Booking ID, " +
		"Payment ID or Paynow reference."
	MessagePaymentConfirmed = "Payment confirmed. Thank you!"
	MessagePaymentAwaiting  = "We are waiting for Paynow to confirm your payment."
	MessagePaymentFailed    = "Your payment was not completed. Please contact us or try again."
)

// PaymentSummary is what a customer sees when they come back from the gateway.
type PaymentSummary struct {
	Found      bool
	Payment    *domain.Payment
	Booking    *domain.Booking
	ETAMinutes *int
	MapsURL    string
	PollPath   string
	OwnerPhone string
	Message    string
}

// SummaryBuilder builds return-page summaries.
type SummaryBuilder struct {
	averageSpeedKmh decimal.Decimal
	ownerPhone      string
}

// NewSummaryBuilder creates a new SummaryBuilder.
func NewSummaryBuilder(averageSpeedKmh float64, ownerPhone string) *SummaryBuilder {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = DefaultAverageSpeedKmh
	}
	return &SummaryBuilder{
		averageSpeedKmh: decimal.NewFromFloat(averageSpeedKmh),
		ownerPhone:      ownerPhone,
	}
}

// Build summarizes a payment and its booking.
func (b *SummaryBuilder) Build(booking *domain.Booking, payment *domain.Payment) *PaymentSummary {
	summary := &PaymentSummary{
		Found:      true,
		Payment:    payment,
		Booking:    booking,
		PollPath:   PollPath(payment.ID),
		OwnerPhone: b.ownerPhone,
		Message:    statusMessage(payment.Status),
	}
	if booking != nil {
		summary.ETAMinutes = ETAMinutes(booking.DistanceKm, b.averageSpeedKmh)
		summary.MapsURL = MapsURL(booking)
	}
	return summary
}

// NotFound is the generic summary shown when no payment could be identified.
func (b *SummaryBuilder) NotFound() *PaymentSummary {
	return &PaymentSummary{
		Found:      false,
		OwnerPhone: b.ownerPhone,
		Message:    MessageReturnNotFound,
	}
}

// PollPath is the local endpoint a browser polls for a payment.
func PollPath(paymentID string) string {
	return "/paynow/poll/" + url.PathEscape(paymentID)
}

// ETAMinutes estimates the trip duration at the given average speed,
// rounded to whole minutes. It returns nil when the distance is unknown.
func ETAMinutes(distanceKm, averageSpeedKmh decimal.Decimal) *int {
	if !distanceKm.IsPositive() || !averageSpeedKmh.IsPositive() {
		return nil
	}
	minutes := int(distanceKm.Div(averageSpeedKmh).Mul(decimal.NewFromInt(60)).Round(0).IntPart())
	return &minutes
}

// MapsURL builds a Google Maps driving directions link, preferring
// coordinates over addresses.
func MapsURL(b *domain.Booking) string {
	if b.Pickup.HasCoordinates() && b.Dropoff.HasCoordinates() {
		return fmt.Sprintf("https://www.google.com/maps/dir/?api=1&origin=%s,%s&destination=%s,%s&travelmode=driving",
			formatCoord(*b.Pickup.Lat), formatCoord(*b.Pickup.Lng),
			formatCoord(*b.Dropoff.Lat), formatCoord(*b.Dropoff.Lng))
	}
	if b.Pickup.Address == "" || b.Dropoff.Address == "" {
		return ""
	}
	params := url.Values{}
	params.Set("api", "1")
	params.Set("origin", b.Pickup.Address)
	params.Set("destination", b.Dropoff.Address)
	params.Set("travelmode", "driving")
	return "https://www.google.com/maps/dir/?" + params.Encode()
}

func statusMessage(status domain.PaymentStatus) string {
	switch status {
	case domain.PaymentStatusPaid:
		return MessagePaymentConfirmed
	case domain.PaymentStatusFailed:
		return MessagePaymentFailed
	default:
		return MessagePaymentAwaiting
	}
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// FormatPayment renders a payment and its audit log as plain text.
func FormatPayment(payment *domain.Payment, booking *domain.Booking) string {
	var sb strings.Builder

	sb.WriteString("=====================================\n")
	sb.WriteString("        PAYMENT\n")
	sb.WriteString("=====================================\n")
	fmt.Fprintf(&sb, "Payment ID:  %s\n", payment.ID)
	fmt.Fprintf(&sb, "Booking ID:  %s\n", payment.BookingID)
	fmt.Fprintf(&sb, "Method:      %s\n", payment.Method)
	fmt.Fprintf(&sb, "Amount:      $%s\n", payment.Amount.StringFixed(2))
	fmt.Fprintf(&sb, "Status:      %s\n", payment.Status)
	fmt.Fprintf(&sb, "Reference:   %s\n", payment.ProviderReference)
	fmt.Fprintf(&sb, "Poll URL:    %s\n", payment.PollURL)
	fmt.Fprintf(&sb, "Created:     %s\n", payment.CreatedAt.Format("Jan 02, 2006 3:04 PM"))

	if booking != nil {
		sb.WriteString("\nBOOKING\n")
		sb.WriteString("-------------------------------------\n")
		fmt.Fprintf(&sb, "Status:      %s\n", booking.Status)
		fmt.Fprintf(&sb, "Pickup:      %s\n", booking.Pickup.Address)
		fmt.Fprintf(&sb, "Dropoff:     %s\n", booking.Dropoff.Address)
		fmt.Fprintf(&sb, "Distance:    %s km\n", booking.DistanceKm.String())
		fmt.Fprintf(&sb, "Total:       $%s\n", booking.TotalAmount.StringFixed(2))
	}

	sb.WriteString("\nAUDIT LOG\n")
	sb.WriteString("-------------------------------------\n")
	if len(payment.RawPayloads) == 0 {
		sb.WriteString("(empty)\n")
	}
	for i, entry := range payment.RawPayloads {
		fmt.Fprintf(&sb, "#%d %s at %s\n", i+1, entry.Source, entry.ReceivedAt.Format("2006-01-02 15:04:05"))
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "    %s = %s\n", k, entry.Data[k])
		}
	}

	return sb.String()
}
