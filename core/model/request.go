package model

import "time"

// RequestState is the lifecycle state of an SOS request.
type RequestState int

const (
	StatePending RequestState = iota
	StateAssigned
	StateAccepted
	StateEnRoute
	StateArrived
	StateCompleted
	StateCancelled
)

// String returns a human-readable representation of the state.
func (s RequestState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAssigned:
		return "assigned"
	case StateAccepted:
		return "accepted"
	case StateEnRoute:
		return "enroute"
	case StateArrived:
		return "arrived"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Severity indicates the priority tier of a request.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns a human-readable representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Request represents one active emergency. A request is never deleted, only
// transitioned to a terminal state.
type Request struct {
	ID            string     `json:"id"`
	Position      Coordinate `json:"position"`
	EmergencyType string     `json:"emergency_type"` // category key into the requirement table
	Severity      Severity   `json:"severity"`
	PatientNotes  string     `json:"patient_notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`

	State RequestState `json:"state"`

	// FacilityID and BackupFacilityID hold the ranking decision; empty until
	// ranking has run.
	FacilityID       string `json:"facility_id,omitempty"`
	BackupFacilityID string `json:"backup_facility_id,omitempty"`

	// AmbulanceID is non-empty iff State is one of
	// assigned/accepted/enroute/arrived.
	AmbulanceID string `json:"ambulance_id,omitempty"`

	// Attempt is the current assignment attempt sequence number. It starts at
	// zero and increments on every bind; timers tagged with an older attempt
	// are stale.
	Attempt uint64 `json:"attempt"`

	// WaitingForResource marks a request that has no bound ambulance but
	// remains active pending retry.
	WaitingForResource bool `json:"waiting_for_resource,omitempty"`
}
