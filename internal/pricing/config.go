package pricing

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Bracket prices every distance in the inclusive range [Min, Max].
type Bracket struct {
	Min   decimal.Decimal `yaml:"min"`
	Max   decimal.Decimal `yaml:"max"`
	Price decimal.Decimal `yaml:"price"`
}

// Contains reports whether d falls inside the bracket.
func (b Bracket) Contains(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(b.Min) && d.LessThanOrEqual(b.Max)
}

// Config holds the tariff used by the Calculator.
type Config struct {
	MinDistanceKm           decimal.Decimal `yaml:"min_distance_km"`
	Brackets                []Bracket       `yaml:"brackets"`
	LongDistanceThresholdKm decimal.Decimal `yaml:"long_distance_threshold_km"`
	LongDistanceBasePrice   decimal.Decimal `yaml:"long_distance_base_price"`
	PerKmAboveThreshold     decimal.Decimal `yaml:"per_km_above_threshold"`
	IncludedAdults          int             `yaml:"included_adults"`
	ExtraAdultFee           decimal.Decimal `yaml:"extra_adult_fee"`
	KidSeatedFactor         decimal.Decimal `yaml:"kid_seated_factor"`
	LuggageFee              decimal.Decimal `yaml:"luggage_fee"`
}

// DefaultConfig returns the standard tariff.
func DefaultConfig() Config {
	return Config{
		MinDistanceKm: decimal.NewFromInt(13),
		Brackets: []Bracket{
			{Min: decimal.NewFromInt(13), Max: decimal.NewFromInt(15), Price: decimal.NewFromInt(25)},
			{Min: decimal.NewFromInt(16), Max: decimal.NewFromInt(20), Price: decimal.NewFromInt(30)},
			{Min: decimal.NewFromInt(21), Max: decimal.NewFromInt(25), Price: decimal.NewFromInt(35)},
			{Min: decimal.NewFromInt(26), Max: decimal.NewFromInt(35), Price: decimal.NewFromInt(40)},
		},
		LongDistanceThresholdKm: decimal.NewFromInt(35),
		LongDistanceBasePrice:   decimal.NewFromInt(40),
		PerKmAboveThreshold:     decimal.RequireFromString("1.30"),
		IncludedAdults:          3,
		ExtraAdultFee:           decimal.NewFromInt(10),
		KidSeatedFactor:         decimal.RequireFromString("0.5"),
		LuggageFee:              decimal.NewFromInt(5),
	}
}

// LoadConfigFile reads a YAML tariff. Fields absent from the file keep
// their default values.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read pricing file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse pricing file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the tariff for values the calculator cannot work with.
func (c Config) Validate() error {
	if len(c.Brackets) == 0 {
		return fmt.Errorf("pricing: at least one bracket is required")
	}
	for i, b := range c.Brackets {
		if b.Max.LessThan(b.Min) {
			return fmt.Errorf("pricing: bracket %d has max below min", i)
		}
		if b.Price.IsNegative() {
			return fmt.Errorf("pricing: bracket %d has a negative price", i)
		}
	}
	if c.MinDistanceKm.IsNegative() {
		return fmt.Errorf("pricing: min_distance_km must not be negative")
	}
	if c.IncludedAdults < 1 {
		return fmt.Errorf("pricing: included_adults must be at least 1")
	}
	return nil
}
