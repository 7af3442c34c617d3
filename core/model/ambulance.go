package model

import (
	"fmt"
	"strings"
	"time"
)

// AmbulanceStatus is the availability state of a mobile unit.
type AmbulanceStatus int

const (
	AmbulanceAvailable AmbulanceStatus = iota
	AmbulanceBusy
)

// String returns a human-readable representation of the status.
func (s AmbulanceStatus) String() string {
	switch s {
	case AmbulanceAvailable:
		return "available"
	case AmbulanceBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Ambulance is a mobile unit that can be bound to at most one request at a
// time. Position is last-known-good from the location feed; the engine never
// blocks on freshness.
type Ambulance struct {
	ID       string          `json:"id"`
	Position Coordinate      `json:"position"`
	Status   AmbulanceStatus `json:"status"`

	// RequestID is non-empty iff Status is AmbulanceBusy.
	RequestID string `json:"request_id,omitempty"`

	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Validate checks the busy-iff-bound invariant.
func (a Ambulance) Validate() error {
	bound := a.RequestID != ""
	if bound != (a.Status == AmbulanceBusy) {
		return fmt.Errorf("ambulance %s: status %s with request %q", a.ID, a.Status, a.RequestID)
	}
	return nil
}

func containsFold(list []string, name string) bool {
	for _, v := range list {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}
