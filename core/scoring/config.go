package scoring

import "math"

// Config defines scoring weights and decay parameters.
type Config struct {
	WeightFacility   float64 `json:"weight_facility"`
	WeightDistance   float64 `json:"weight_distance"`
	WeightBeds       float64 `json:"weight_beds"`
	WeightSpecialist float64 `json:"weight_specialist"`
	WeightPrediction float64 `json:"weight_prediction"`
	WeightHistory    float64 `json:"weight_history"`

	// AvgSpeedKmh is the average ambulance speed used for the ETA estimate.
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`

	// StalenessHours is the window after which facility status data is
	// considered stale and confidence decay applies.
	StalenessHours float64 `json:"staleness_hours"`

	// DecayRate is the per-hour confidence multiplier for stale data.
	DecayRate float64 `json:"decay_rate"`
}

// SetDefaults applies the standard weight set and decay parameters.
func (c *Config) SetDefaults() {
	if c.WeightFacility == 0 && c.WeightDistance == 0 && c.WeightBeds == 0 &&
		c.WeightSpecialist == 0 && c.WeightPrediction == 0 && c.WeightHistory == 0 {
		c.WeightFacility = 0.30
		c.WeightDistance = 0.20
		c.WeightBeds = 0.20
		c.WeightSpecialist = 0.15
		c.WeightPrediction = 0.10
		c.WeightHistory = 0.05
	}
	if c.AvgSpeedKmh <= 0 {
		c.AvgSpeedKmh = 40
	}
	if c.StalenessHours <= 0 {
		c.StalenessHours = 1
	}
	if c.DecayRate <= 0 || c.DecayRate > 1 {
		c.DecayRate = 0.9
	}
}

// Validate checks that the six weights sum to 1.0.
func (c Config) Validate() error {
	sum := c.WeightFacility + c.WeightDistance + c.WeightBeds +
		c.WeightSpecialist + c.WeightPrediction + c.WeightHistory
	if math.Abs(sum-1.0) > 1e-9 {
		return ErrBadWeights
	}
	return nil
}
