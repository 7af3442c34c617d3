package model

import "time"

// EventKind identifies a lifecycle event on the audit trail.
type EventKind string

const (
	EventSOSCreated         EventKind = "sos_created"
	EventAmbulanceAssigned  EventKind = "ambulance_assigned"
	EventDriverAccepted     EventKind = "driver_accepted"
	EventDriverReassigned   EventKind = "driver_reassigned"
	EventStatusChanged      EventKind = "status_changed"
	EventTripCompleted      EventKind = "trip_completed"
	EventRequestCancelled   EventKind = "request_cancelled"
	EventWaitingForResource EventKind = "waiting_for_resource"
)

// Event is an immutable audit record. Events for a single request are
// appended in the order transitions committed.
type Event struct {
	ID          string    `json:"id"`
	Kind        EventKind `json:"kind"`
	RequestID   string    `json:"request_id"`
	AmbulanceID string    `json:"ambulance_id,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
