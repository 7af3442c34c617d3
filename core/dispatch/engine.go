package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescuegrid/rescuegrid/core/events"
	"github.com/rescuegrid/rescuegrid/core/geo"
	"github.com/rescuegrid/rescuegrid/core/logger"
	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/repository"
)

// AssignmentEngine owns the ambulance-to-request binding. All mutations of
// ambulance status go through here so the available-pool scan and the bind
// are atomic with respect to concurrent assignment attempts.
type AssignmentEngine struct {
	repo          repository.Repository
	emitter       *events.Emitter
	metrics       coremetrics.MetricsSink
	log           logger.Logger
	acceptTimeout time.Duration

	// mu serializes pool scans and binds across requests. Many requests
	// compete for the same free pool; without this two requests could bind
	// the same unit.
	mu sync.Mutex
}

// NewAssignmentEngine creates the engine. The metrics sink may be nil.
func NewAssignmentEngine(repo repository.Repository, emitter *events.Emitter, sink coremetrics.MetricsSink, acceptTimeout time.Duration, log logger.Logger) (*AssignmentEngine, error) {
	if repo == nil || emitter == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewAssignmentEngine")
	}
	if acceptTimeout <= 0 {
		acceptTimeout = 60 * time.Second
	}
	return &AssignmentEngine{
		repo:          repo,
		emitter:       emitter,
		metrics:       sink,
		log:           log,
		acceptTimeout: acceptTimeout,
	}, nil
}

// AssignNearest binds the nearest available ambulance to the request,
// excluding any ids in exclude (previously tried units). On success the
// request carries the new attempt number and bound ambulance id and has been
// persisted in state assigned. Returns ErrNoResourceAvailable when the
// filtered pool is empty.
func (e *AssignmentEngine) AssignNearest(ctx context.Context, req *model.Request, exclude map[string]bool) (model.Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.repo.ListAvailableAmbulances(ctx)
	if err != nil {
		return model.Assignment{}, err
	}
	candidates := pool[:0]
	for _, a := range pool {
		if exclude[a.ID] {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return model.Assignment{}, ErrNoResourceAvailable
	}

	// Nearest wins; ties broken by id for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		di := geo.DistanceKm(req.Position, candidates[i].Position)
		dj := geo.DistanceKm(req.Position, candidates[j].Position)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})
	chosen := candidates[0]
	return e.bind(ctx, req, chosen)
}

// AssignSpecific binds the named ambulance, used for explicit admin
// reassignment. The unit must currently be available.
func (e *AssignmentEngine) AssignSpecific(ctx context.Context, req *model.Request, ambulanceID string) (model.Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	amb, err := e.repo.GetAmbulance(ctx, ambulanceID)
	if err != nil {
		return model.Assignment{}, err
	}
	if amb.Status != model.AmbulanceAvailable {
		return model.Assignment{}, ErrNoResourceAvailable
	}
	return e.bind(ctx, req, amb)
}

// bind marks the ambulance busy, advances the request attempt and persists
// the pending assignment. Called with e.mu held.
func (e *AssignmentEngine) bind(ctx context.Context, req *model.Request, amb model.Ambulance) (model.Assignment, error) {
	amb.Status = model.AmbulanceBusy
	amb.RequestID = req.ID
	if err := e.repo.UpdateAmbulance(ctx, amb); err != nil {
		return model.Assignment{}, err
	}

	req.Attempt++
	req.AmbulanceID = amb.ID
	req.State = model.StateAssigned
	req.WaitingForResource = false
	if err := e.repo.UpdateRequest(ctx, *req); err != nil {
		e.unbindBestEffort(ctx, amb)
		return model.Assignment{}, err
	}

	now := time.Now()
	asn := model.Assignment{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		AmbulanceID: amb.ID,
		Attempt:     req.Attempt,
		CreatedAt:   now,
		Deadline:    now.Add(e.acceptTimeout),
		Outcome:     model.OutcomePending,
	}
	if err := e.repo.SaveAssignment(ctx, asn); err != nil {
		e.unbindBestEffort(ctx, amb)
		return model.Assignment{}, err
	}

	distance := geo.DistanceKm(req.Position, amb.Position)
	assignmentsTotal.WithLabelValues(model.OutcomePending.String()).Inc()
	if e.metrics != nil {
		if err := e.metrics.RecordAssignmentResult([]coremetrics.AssignmentResult{{
			RequestID:     req.ID,
			AmbulanceID:   amb.ID,
			EmergencyType: req.EmergencyType,
			Attempt:       req.Attempt,
			Outcome:       model.OutcomePending,
			DistanceKm:    distance,
			Time:          now,
		}}); err != nil {
			e.log.Errorf("metrics error: %v", err)
		}
	}
	detail := fmt.Sprintf("attempt=%d distance_km=%.2f", req.Attempt, distance)
	if err := e.emitter.Emit(ctx, events.New(model.EventAmbulanceAssigned, req.ID, amb.ID, detail)); err != nil {
		e.log.Errorf("emit ambulance_assigned: %v", err)
	}
	return asn, nil
}

// Release frees the ambulance bound to the request and finalizes the
// assignment outcome in the same step, so a unit is never released without
// its assignment being settled. A pending or accepted assignment is still
// live and takes the new outcome; expired and superseded ones are already
// final.
func (e *AssignmentEngine) Release(ctx context.Context, req *model.Request, asn *model.Assignment, outcome model.AssignmentOutcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if req.AmbulanceID == "" {
		return nil
	}
	amb, err := e.repo.GetAmbulance(ctx, req.AmbulanceID)
	if err != nil {
		return err
	}
	amb.Status = model.AmbulanceAvailable
	amb.RequestID = ""
	if err := e.repo.UpdateAmbulance(ctx, amb); err != nil {
		return err
	}
	live := asn != nil &&
		(asn.Outcome == model.OutcomePending || asn.Outcome == model.OutcomeAccepted)
	if live && asn.Outcome != outcome {
		asn.Outcome = outcome
		if err := e.repo.SaveAssignment(ctx, *asn); err != nil {
			return err
		}
		assignmentsTotal.WithLabelValues(outcome.String()).Inc()
	}
	req.AmbulanceID = ""
	return nil
}

func (e *AssignmentEngine) unbindBestEffort(ctx context.Context, amb model.Ambulance) {
	amb.Status = model.AmbulanceAvailable
	amb.RequestID = ""
	if err := e.repo.UpdateAmbulance(ctx, amb); err != nil {
		e.log.Errorf("rollback ambulance %s: %v", amb.ID, err)
	}
}
