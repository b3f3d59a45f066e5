package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus represents the current status of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// PaymentOption is the way the customer chose to pay for a booking.
type PaymentOption string

const (
	PaymentOptionOnArrival PaymentOption = "POA"
	PaymentOptionPaynow    PaymentOption = "PAYNOW"
)

// Valid reports whether the option is one the booking flow supports.
func (o PaymentOption) Valid() bool {
	return o == PaymentOptionOnArrival || o == PaymentOptionPaynow
}

// Location is a pickup or dropoff descriptor. Coordinates are optional.
type Location struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// Booking represents a customer's ride request with its computed fare.
type Booking struct {
	ID             string
	Pickup         Location
	Dropoff        Location
	DistanceKm     decimal.Decimal
	NumAdults      int
	NumKidsSeated  int
	NumKidsCarried int
	LuggageCount   int
	Phone          string
	Email          string
	PaymentOption  PaymentOption
	Status         BookingStatus
	PriceBreakdown Breakdown
	TotalAmount    decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
