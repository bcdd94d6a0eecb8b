package flexibility

import "fmt"

// Config defines flexibility coordination settings.
type Config struct {
	// OptimizationHorizonHours is the default optimizer sweep horizon.
	OptimizationHorizonHours int `json:"optimization_horizon_hours"`
	// MinResponseTimeMinutes is the minimum lead time between
	// submission and request start.
	MinResponseTimeMinutes int `json:"min_response_time_minutes"`
	// MaxResponseTimeMinutes is the maximum lead time between
	// submission and request start.
	MaxResponseTimeMinutes int `json:"max_response_time_minutes"`
	// PriceThreshold separates cheap from expensive hours.
	PriceThreshold float64 `json:"price_threshold"`
	// CarbonThreshold separates clean from carbon-heavy capacity
	// signals, in gCO2/kWh.
	CarbonThreshold float64 `json:"carbon_threshold"`
	// AcceptScore is the minimum optimization score for acceptance.
	AcceptScore float64 `json:"accept_score"`
	// Currency quoted on settled responses.
	Currency string `json:"currency"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OptimizationHorizonHours == 0 {
		c.OptimizationHorizonHours = 24
	}
	if c.MaxResponseTimeMinutes == 0 {
		c.MaxResponseTimeMinutes = 24 * 60
	}
	if c.PriceThreshold == 0 {
		c.PriceThreshold = 0.2
	}
	if c.CarbonThreshold == 0 {
		c.CarbonThreshold = 200
	}
	if c.AcceptScore == 0 {
		c.AcceptScore = 0.7
	}
	if c.Currency == "" {
		c.Currency = "EUR"
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.OptimizationHorizonHours <= 0 {
		return fmt.Errorf("optimization_horizon_hours must be positive")
	}
	if c.MinResponseTimeMinutes < 0 {
		return fmt.Errorf("min_response_time_minutes must not be negative")
	}
	if c.MaxResponseTimeMinutes <= c.MinResponseTimeMinutes {
		return fmt.Errorf("max_response_time_minutes must exceed min_response_time_minutes")
	}
	if c.AcceptScore <= 0 || c.AcceptScore >= 1 {
		return fmt.Errorf("accept_score must be in (0,1)")
	}
	return nil
}
