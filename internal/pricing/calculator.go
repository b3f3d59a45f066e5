// Package pricing computes ride fares from distance and passenger counts.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"taxi/internal/domain"
)

// ErrInvalidInput is returned when the fare inputs cannot be priced.
var ErrInvalidInput = errors.New("invalid fare input")

var three = decimal.NewFromInt(3)

// Input describes the ride to price.
type Input struct {
	DistanceKm     *decimal.Decimal
	NumAdults      int
	NumKidsSeated  int
	NumKidsCarried int
	LuggageCount   int
}

// Calculator prices rides against a fixed tariff. It holds no mutable
// state and is safe for concurrent use.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator for the given tariff.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Calculate returns the fare breakdown for in.
func (c *Calculator) Calculate(in Input) (domain.Breakdown, error) {
	if err := validate(in); err != nil {
		return domain.Breakdown{}, err
	}

	distance := *in.DistanceKm
	effective := decimal.Max(distance, c.cfg.MinDistanceKm)
	base := c.basePrice(effective)

	extraAdults := in.NumAdults - c.cfg.IncludedAdults
	if extraAdults < 0 {
		extraAdults = 0
	}
	extraAdultsFee := c.cfg.ExtraAdultFee.Mul(decimal.NewFromInt(int64(extraAdults)))

	// A seated kid pays a share of a third of the bracket price.
	kidsSeatedFee := base.Div(three).
		Mul(c.cfg.KidSeatedFactor).
		Mul(decimal.NewFromInt(int64(in.NumKidsSeated)))

	luggageFee := c.cfg.LuggageFee.Mul(decimal.NewFromInt(int64(in.LuggageCount)))

	subtotal := base.Add(extraAdultsFee).Add(kidsSeatedFee).Add(luggageFee)

	return domain.Breakdown{
		DistanceKm:          distance,
		EffectiveDistanceKm: effective,
		BaseDistancePrice:   roundMoney(base),
		ExtraAdults:         extraAdults,
		ExtraAdultsFee:      roundMoney(extraAdultsFee),
		KidsSeated:          in.NumKidsSeated,
		KidsSeatedFee:       roundMoney(kidsSeatedFee),
		KidsCarried:         in.NumKidsCarried,
		LuggageCount:        in.LuggageCount,
		LuggageFee:          roundMoney(luggageFee),
		Subtotal:            roundMoney(subtotal),
		Total:               roundMoney(subtotal),
	}, nil
}

// basePrice returns the distance component of the fare. Distances that fall
// between two brackets are charged the first bracket's price.
func (c *Calculator) basePrice(effective decimal.Decimal) decimal.Decimal {
	for _, b := range c.cfg.Brackets {
		if b.Contains(effective) {
			return b.Price
		}
	}
	if effective.GreaterThan(c.cfg.LongDistanceThresholdKm) {
		over := effective.Sub(c.cfg.LongDistanceThresholdKm)
		return c.cfg.LongDistanceBasePrice.Add(c.cfg.PerKmAboveThreshold.Mul(over))
	}
	return c.cfg.Brackets[0].Price
}

func validate(in Input) error {
	switch {
	case in.DistanceKm == nil:
		return fmt.Errorf("%w: distance_km is required", ErrInvalidInput)
	case in.NumAdults < 1:
		return fmt.Errorf("%w: num_adults must be at least 1", ErrInvalidInput)
	case in.NumKidsSeated < 0:
		return fmt.Errorf("%w: num_kids_seated must not be negative", ErrInvalidInput)
	case in.NumKidsCarried < 0:
		return fmt.Errorf("%w: num_kids_carried must not be negative", ErrInvalidInput)
	case in.LuggageCount < 0:
		return fmt.Errorf("%w: luggage_count must not be negative", ErrInvalidInput)
	}
	return nil
}

// roundMoney rounds half away from zero to cents; fares are never negative
// so this is round-half-up.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
