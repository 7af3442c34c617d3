// Package store provides the persistence adapters: an in-memory repository
// backing the live dispatch state and a SQLite archive for the audit trail.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rescuegrid/rescuegrid/core/geo"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/repository"
)

// now is a clock hook for tests.
var now = time.Now

// MemoryStore is the in-memory implementation of repository.Repository. Live
// dispatch state is hot-path and bounded by the active fleet size, so it
// stays in process; the audit trail can additionally be archived through an
// EventArchiver.
type MemoryStore struct {
	mu          sync.RWMutex
	requests    map[string]model.Request
	facilities  map[string]model.Facility
	ambulances  map[string]model.Ambulance
	assignments map[string][]model.Assignment
	events      map[string][]model.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:    make(map[string]model.Request),
		facilities:  make(map[string]model.Facility),
		ambulances:  make(map[string]model.Ambulance),
		assignments: make(map[string][]model.Assignment),
		events:      make(map[string][]model.Event),
	}
}

// SeedFacilities loads the facility registry, replacing entries with the
// same id.
func (s *MemoryStore) SeedFacilities(facilities []model.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facilities {
		f.ClampBeds()
		s.facilities[f.ID] = f
	}
}

// SeedAmbulances loads the fleet, replacing entries with the same id.
// Entries violating the busy-iff-bound invariant are rejected.
func (s *MemoryStore) SeedAmbulances(ambulances []model.Ambulance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range ambulances {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("seed ambulance %s: %w", a.ID, err)
		}
		s.ambulances[a.ID] = a
	}
	return nil
}

func (s *MemoryStore) CreateRequest(_ context.Context, req *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return fmt.Errorf("store: request %s already exists", req.ID)
	}
	s.requests[req.ID] = *req
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return model.Request{}, repository.ErrNotFound
	}
	return req, nil
}

func (s *MemoryStore) UpdateRequest(_ context.Context, req model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; !ok {
		return repository.ErrNotFound
	}
	s.requests[req.ID] = req
	return nil
}

// FacilitiesNear returns facilities within radiusKm, ordered by id for
// deterministic iteration.
func (s *MemoryStore) FacilitiesNear(_ context.Context, pos model.Coordinate, radiusKm float64) ([]model.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Facility
	for _, f := range s.facilities {
		if geo.DistanceKm(pos, f.Position) <= radiusKm {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetFacility(_ context.Context, id string) (model.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facilities[id]
	if !ok {
		return model.Facility{}, repository.ErrNotFound
	}
	return f, nil
}

// UpdateFacilityStatus applies the partial update and refreshes LastUpdated,
// resetting the staleness clock used by score confidence decay.
func (s *MemoryStore) UpdateFacilityStatus(_ context.Context, id string, upd repository.FacilityStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facilities[id]
	if !ok {
		return repository.ErrNotFound
	}
	if upd.FreeICUBeds != nil {
		f.FreeICUBeds = *upd.FreeICUBeds
	}
	if upd.FreeGenBeds != nil {
		f.FreeGenBeds = *upd.FreeGenBeds
	}
	if upd.LoadPercentage != nil {
		f.LoadPercentage = *upd.LoadPercentage
	}
	if upd.DoctorsOnDuty != nil {
		f.DoctorsOnDuty = upd.DoctorsOnDuty
	}
	f.ClampBeds()
	f.LastUpdated = now()
	s.facilities[id] = f
	return nil
}

func (s *MemoryStore) GetAmbulance(_ context.Context, id string) (model.Ambulance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.ambulances[id]
	if !ok {
		return model.Ambulance{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) ListAvailableAmbulances(_ context.Context) ([]model.Ambulance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Ambulance
	for _, a := range s.ambulances {
		if a.Status == model.AmbulanceAvailable {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateAmbulance(_ context.Context, amb model.Ambulance) error {
	if err := amb.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ambulances[amb.ID]; !ok {
		return repository.ErrNotFound
	}
	s.ambulances[amb.ID] = amb
	return nil
}

// SaveAssignment inserts or replaces the assignment with the same id, so
// outcome finalization overwrites the pending row.
func (s *MemoryStore) SaveAssignment(_ context.Context, asn model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.assignments[asn.RequestID]
	for i, existing := range list {
		if existing.ID == asn.ID {
			list[i] = asn
			return nil
		}
	}
	s.assignments[asn.RequestID] = append(list, asn)
	return nil
}

func (s *MemoryStore) AssignmentsForRequest(_ context.Context, requestID string) ([]model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.assignments[requestID]
	out := make([]model.Assignment, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.RequestID] = append(s.events[ev.RequestID], ev)
	return nil
}

func (s *MemoryStore) EventsForRequest(_ context.Context, requestID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.events[requestID]
	out := make([]model.Event, len(list))
	copy(out, list)
	return out, nil
}
