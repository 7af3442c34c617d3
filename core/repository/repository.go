// Package repository defines the persistence contract consumed by the
// dispatch engine. Implementations must be safe for concurrent use and
// idempotent on identical input, since the engine may re-read after losing a
// race.
package repository

import (
	"context"
	"errors"

	"github.com/rescuegrid/rescuegrid/core/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("repository: not found")

// FacilityStatusUpdate carries the mutable facility fields fed by the
// external status-update collaborator. Nil pointers leave the field
// untouched.
type FacilityStatusUpdate struct {
	FreeICUBeds    *int
	FreeGenBeds    *int
	LoadPercentage *float64
	DoctorsOnDuty  []string
}

// Repository is the narrow persistence contract of the engine.
type Repository interface {
	CreateRequest(ctx context.Context, req *model.Request) error
	GetRequest(ctx context.Context, id string) (model.Request, error)
	UpdateRequest(ctx context.Context, req model.Request) error

	FacilitiesNear(ctx context.Context, pos model.Coordinate, radiusKm float64) ([]model.Facility, error)
	GetFacility(ctx context.Context, id string) (model.Facility, error)
	UpdateFacilityStatus(ctx context.Context, id string, upd FacilityStatusUpdate) error

	GetAmbulance(ctx context.Context, id string) (model.Ambulance, error)
	ListAvailableAmbulances(ctx context.Context) ([]model.Ambulance, error)
	UpdateAmbulance(ctx context.Context, amb model.Ambulance) error

	SaveAssignment(ctx context.Context, asn model.Assignment) error
	AssignmentsForRequest(ctx context.Context, requestID string) ([]model.Assignment, error)

	AppendEvent(ctx context.Context, ev model.Event) error
	EventsForRequest(ctx context.Context, requestID string) ([]model.Event, error)
}
