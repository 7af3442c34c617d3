package dispatch

import "time"

// Config defines dispatch-related settings.
type Config struct {
	// AcceptTimeoutSeconds is how long an assigned driver has to accept
	// before automatic reassignment.
	AcceptTimeoutSeconds int `json:"accept_timeout_seconds"`
	// RetryIntervalSeconds is the waiting-for-resource retry tick.
	RetryIntervalSeconds int `json:"retry_interval_seconds"`
	// SearchRadiusKm is the default facility search radius.
	SearchRadiusKm float64 `json:"search_radius_km"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.AcceptTimeoutSeconds <= 0 {
		c.AcceptTimeoutSeconds = 60
	}
	if c.RetryIntervalSeconds <= 0 {
		c.RetryIntervalSeconds = 3
	}
	if c.SearchRadiusKm <= 0 {
		c.SearchRadiusKm = 15
	}
}

// AcceptTimeout returns the accept timeout as a duration.
func (c Config) AcceptTimeout() time.Duration {
	return time.Duration(c.AcceptTimeoutSeconds) * time.Second
}

// RetryInterval returns the waiting-for-resource retry tick as a duration.
func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}
