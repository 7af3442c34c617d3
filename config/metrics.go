package config

import "fmt"

// MetricsConfig selects the observability sinks.
type MetricsConfig struct {
	// Sinks lists the enabled sinks: "prometheus" and/or "influx". Empty
	// means none; the engine falls back to its built-in collectors only.
	Sinks []string `json:"sinks"`
	// PrometheusAddr is the listen address of the /metrics endpoint.
	PrometheusAddr string `json:"prometheus_addr"`
	InfluxURL      string `json:"influx_url"`
	InfluxToken    string `json:"influx_token"`
	InfluxOrg      string `json:"influx_org"`
	InfluxBucket   string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusAddr == "" {
		c.PrometheusAddr = ":9090"
	}
}

// Validate checks sink names and the parameters they require.
func (c MetricsConfig) Validate() error {
	for _, s := range c.Sinks {
		switch s {
		case "prometheus":
		case "influx":
			if c.InfluxURL == "" || c.InfluxOrg == "" || c.InfluxBucket == "" {
				return fmt.Errorf("influx sink requires influx_url, influx_org and influx_bucket")
			}
		default:
			return fmt.Errorf("unknown metrics sink %s", s)
		}
	}
	return nil
}
