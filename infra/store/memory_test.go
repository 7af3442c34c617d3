package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/repository"
)

func TestMemoryStoreRequestLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	req := model.Request{ID: "r1", EmergencyType: "cardiac"}
	require.NoError(t, s.CreateRequest(ctx, &req))
	assert.Error(t, s.CreateRequest(ctx, &req), "duplicate id must be rejected")

	got, err := s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "cardiac", got.EmergencyType)

	got.State = model.StateAssigned
	require.NoError(t, s.UpdateRequest(ctx, got))
	got, err = s.GetRequest(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, got.State)

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, s.UpdateRequest(ctx, model.Request{ID: "missing"}), repository.ErrNotFound)
}

func TestMemoryStoreFacilitiesNear(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SeedFacilities([]model.Facility{
		{ID: "near", Position: model.Coordinate{Lat: 11.02, Lng: 76.96}},
		{ID: "far", Position: model.Coordinate{Lat: 13.08, Lng: 80.27}},
	})

	got, err := s.FacilitiesNear(ctx, model.Coordinate{Lat: 11.0168, Lng: 76.9558}, 15)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ID)
}

func TestMemoryStoreFacilityStatusUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SeedFacilities([]model.Facility{{
		ID: "f1", ICUBeds: 10, TotalBeds: 30, FreeICUBeds: 4, FreeGenBeds: 12,
		LoadPercentage: 40, DoctorsOnDuty: []string{"Cardiologist"},
	}})

	fixed := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	icu := 99 // above capacity, must clamp
	load := 65.0
	require.NoError(t, s.UpdateFacilityStatus(ctx, "f1", repository.FacilityStatusUpdate{
		FreeICUBeds:    &icu,
		LoadPercentage: &load,
	}))

	f, err := s.GetFacility(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 10, f.FreeICUBeds, "free ICU beds clamp to capacity")
	assert.Equal(t, 12, f.FreeGenBeds, "untouched field keeps its value")
	assert.Equal(t, 65.0, f.LoadPercentage)
	assert.Equal(t, []string{"Cardiologist"}, f.DoctorsOnDuty)
	assert.Equal(t, fixed, f.LastUpdated, "status update resets the staleness clock")

	assert.ErrorIs(t, s.UpdateFacilityStatus(ctx, "missing", repository.FacilityStatusUpdate{}), repository.ErrNotFound)
}

func TestMemoryStoreAmbulanceInvariant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SeedAmbulances([]model.Ambulance{{ID: "a1"}, {ID: "a2"}}))

	assert.Error(t, s.SeedAmbulances([]model.Ambulance{
		{ID: "bad", Status: model.AmbulanceBusy}, // busy without a bound request
	}))
	assert.Error(t, s.UpdateAmbulance(ctx, model.Ambulance{ID: "a1", RequestID: "r1"}))

	require.NoError(t, s.UpdateAmbulance(ctx, model.Ambulance{ID: "a1", Status: model.AmbulanceBusy, RequestID: "r1"}))
	free, err := s.ListAvailableAmbulances(ctx)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.Equal(t, "a2", free[0].ID)
}

func TestMemoryStoreAssignmentUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	asn := model.Assignment{ID: "as1", RequestID: "r1", Outcome: model.OutcomePending}
	require.NoError(t, s.SaveAssignment(ctx, asn))
	asn.Outcome = model.OutcomeExpired
	require.NoError(t, s.SaveAssignment(ctx, asn))

	list, err := s.AssignmentsForRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, list, 1, "finalization overwrites, never duplicates")
	assert.Equal(t, model.OutcomeExpired, list[0].Outcome)
}

func TestMemoryStoreEventOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, kind := range []model.EventKind{model.EventSOSCreated, model.EventAmbulanceAssigned, model.EventDriverAccepted} {
		require.NoError(t, s.AppendEvent(ctx, model.Event{ID: string(kind), Kind: kind, RequestID: "r1"}))
	}
	got, err := s.EventsForRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, model.EventSOSCreated, got[0].Kind)
	assert.Equal(t, model.EventDriverAccepted, got[2].Kind)
}
