package model

import "time"

// AssignmentOutcome is the outcome of one binding attempt.
type AssignmentOutcome int

const (
	OutcomePending AssignmentOutcome = iota
	OutcomeAccepted
	OutcomeExpired
	OutcomeSuperseded
)

// String returns a human-readable representation of the outcome.
func (o AssignmentOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeExpired:
		return "expired"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Assignment is the binding record between a request and an ambulance for one
// attempt. For a given request at most one assignment has outcome pending at
// any instant.
type Assignment struct {
	ID          string            `json:"id"`
	RequestID   string            `json:"request_id"`
	AmbulanceID string            `json:"ambulance_id"`
	Attempt     uint64            `json:"attempt"`
	CreatedAt   time.Time         `json:"created_at"`
	Deadline    time.Time         `json:"deadline"`
	Outcome     AssignmentOutcome `json:"outcome"`
}
