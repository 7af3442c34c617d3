package config

// FleetConfig points at the seed data loaded on startup: the facility
// registry and the ambulance fleet, both JSON files.
type FleetConfig struct {
	FacilitiesFile string `json:"facilities_file"`
	AmbulancesFile string `json:"ambulances_file"`
}
