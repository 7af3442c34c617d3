package scoring

import (
	"fmt"
	"sort"
)

// Requirement lists what an emergency category needs from a facility.
type Requirement struct {
	Facilities  []string `json:"facilities"`
	Specialists []string `json:"specialists"`
	NiceToHave  []string `json:"nice_to_have"`
}

// RequirementTable maps an emergency category to its requirement set. The
// table is immutable after construction and validated at startup.
type RequirementTable map[string]Requirement

// DefaultRequirements returns the built-in category table.
func DefaultRequirements() RequirementTable {
	return RequirementTable{
		"cardiac": {
			Facilities:  []string{"ICU", "Cath Lab", "Emergency Ward"},
			Specialists: []string{"Cardiologist"},
			NiceToHave:  []string{"MRI", "Operation Theatre", "Ventilator"},
		},
		"trauma": {
			Facilities:  []string{"ICU", "Trauma Center", "Emergency Ward", "Operation Theatre"},
			Specialists: []string{"Trauma Surgeon"},
			NiceToHave:  []string{"Blood Bank", "CT Scan", "Ventilator"},
		},
		"maternity": {
			Facilities:  []string{"Maternity Ward", "Operation Theatre", "NICU"},
			Specialists: []string{"Obstetrician"},
			NiceToHave:  []string{"Blood Bank", "ICU"},
		},
		"burns": {
			Facilities:  []string{"Burns Unit", "ICU", "Emergency Ward"},
			Specialists: []string{"Burns Specialist"},
			NiceToHave:  []string{"Operation Theatre", "Blood Bank", "Ventilator"},
		},
		"neuro": {
			Facilities:  []string{"ICU", "CT Scan", "MRI", "Emergency Ward"},
			Specialists: []string{"Neurologist"},
			NiceToHave:  []string{"Operation Theatre", "Ventilator"},
		},
		"general": {
			Facilities:  []string{"Emergency Ward"},
			Specialists: []string{"General Physician"},
			NiceToHave:  []string{"ICU", "Blood Bank"},
		},
		"accident": {
			Facilities:  []string{"ICU", "Trauma Center", "Emergency Ward", "Operation Theatre"},
			Specialists: []string{"Trauma Surgeon", "Orthopedic Surgeon"},
			NiceToHave:  []string{"Blood Bank", "CT Scan", "Ventilator", "Rehabilitation Center"},
		},
	}
}

// Validate checks the table for completeness: every category must name at
// least one required facility and one specialist.
func (t RequirementTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("requirement table is empty")
	}
	for cat, req := range t {
		if cat == "" {
			return fmt.Errorf("requirement table contains an empty category key")
		}
		if len(req.Facilities) == 0 {
			return fmt.Errorf("category %s: no required facilities", cat)
		}
		if len(req.Specialists) == 0 {
			return fmt.Errorf("category %s: no required specialists", cat)
		}
	}
	return nil
}

// Lookup returns the requirement for the category, falling back to "general"
// for unknown categories. ok is false on fallback.
func (t RequirementTable) Lookup(category string) (Requirement, bool) {
	if req, ok := t[category]; ok {
		return req, true
	}
	return t["general"], false
}

// Categories returns the sorted category keys.
func (t RequirementTable) Categories() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
