package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Breakdown is the itemised fare for a ride.
type Breakdown struct {
	DistanceKm          decimal.Decimal `json:"distance_km"`
	EffectiveDistanceKm decimal.Decimal `json:"effective_distance_km"`
	BaseDistancePrice   decimal.Decimal `json:"base_distance_price"`
	ExtraAdults         int             `json:"extra_adults"`
	ExtraAdultsFee      decimal.Decimal `json:"extra_adults_fee"`
	KidsSeated          int             `json:"kids_seated"`
	KidsSeatedFee       decimal.Decimal `json:"kids_seated_fee"`
	KidsCarried         int             `json:"kids_carried"`
	LuggageCount        int             `json:"luggage_count"`
	LuggageFee          decimal.Decimal `json:"luggage_fee"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	Total               decimal.Decimal `json:"total"`
}

// MarshalJSON renders money as numbers with exactly two decimals.
func (b Breakdown) MarshalJSON() ([]byte, error) {
	money := func(d decimal.Decimal) json.Number { return json.Number(d.StringFixed(2)) }

	return json.Marshal(struct {
		DistanceKm          json.Number `json:"distance_km"`
		EffectiveDistanceKm json.Number `json:"effective_distance_km"`
		BaseDistancePrice   json.Number `json:"base_distance_price"`
		ExtraAdults         int         `json:"extra_adults"`
		ExtraAdultsFee      json.Number `json:"extra_adults_fee"`
		KidsSeated          int         `json:"kids_seated"`
		KidsSeatedFee       json.Number `json:"kids_seated_fee"`
		KidsCarried         int         `json:"kids_carried"`
		LuggageCount        int         `json:"luggage_count"`
		LuggageFee          json.Number `json:"luggage_fee"`
		Subtotal            json.Number `json:"subtotal"`
		Total               json.Number `json:"total"`
	}{
		DistanceKm:          json.Number(b.DistanceKm.String()),
		EffectiveDistanceKm: json.Number(b.EffectiveDistanceKm.String()),
		BaseDistancePrice:   money(b.BaseDistancePrice),
		ExtraAdults:         b.ExtraAdults,
		ExtraAdultsFee:      money(b.ExtraAdultsFee),
		KidsSeated:          b.KidsSeated,
		KidsSeatedFee:       money(b.KidsSeatedFee),
		KidsCarried:         b.KidsCarried,
		LuggageCount:        b.LuggageCount,
		LuggageFee:          money(b.LuggageFee),
		Subtotal:            money(b.Subtotal),
		Total:               money(b.Total),
	})
}
