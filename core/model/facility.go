package model

import "time"

// Facility is a candidate destination hospital. Status fields are mutated by
// the external status-update feed; the engine reads them and applies
// confidence decay when LastUpdated is stale.
type Facility struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Position Coordinate `json:"position"`
	Address  string     `json:"address,omitempty"`
	Phone    string     `json:"phone,omitempty"`

	Specializations []string `json:"specializations,omitempty"` // emergency categories the facility advertises
	Capabilities    []string `json:"capabilities,omitempty"`    // e.g. "ICU", "Cath Lab", "Trauma Center"

	TotalBeds     int      `json:"total_beds"`
	ICUBeds       int      `json:"icu_beds"`
	FreeICUBeds   int      `json:"free_icu_beds"`
	FreeGenBeds   int      `json:"free_gen_beds"`
	DoctorsOnDuty []string `json:"doctors_on_duty,omitempty"`

	// LoadPercentage is the rolling occupancy load in [0,100]. Negative means
	// unknown.
	LoadPercentage float64 `json:"load_percentage"`

	// HistoricalSuccessRate is the rolling success rate in [0,1]. Negative
	// means unknown.
	HistoricalSuccessRate float64 `json:"historical_success_rate"`

	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// HasCapability reports whether the facility lists the capability,
// case-insensitively.
func (f Facility) HasCapability(name string) bool {
	return containsFold(f.Capabilities, name)
}

// HasSpecialist reports whether a matching specialist is on the duty roster.
func (f Facility) HasSpecialist(name string) bool {
	return containsFold(f.DoctorsOnDuty, name)
}

// Specializes reports whether the facility explicitly lists the emergency
// category.
func (f Facility) Specializes(category string) bool {
	return containsFold(f.Specializations, category)
}

// ClampBeds enforces free beds <= total beds and never negative.
func (f *Facility) ClampBeds() {
	if f.FreeICUBeds < 0 {
		f.FreeICUBeds = 0
	}
	if f.FreeICUBeds > f.ICUBeds {
		f.FreeICUBeds = f.ICUBeds
	}
	if f.FreeGenBeds < 0 {
		f.FreeGenBeds = 0
	}
	if f.FreeGenBeds > f.TotalBeds {
		f.FreeGenBeds = f.TotalBeds
	}
}
