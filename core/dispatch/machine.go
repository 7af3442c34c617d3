package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescuegrid/rescuegrid/core/events"
	"github.com/rescuegrid/rescuegrid/core/logger"
	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/ranking"
	"github.com/rescuegrid/rescuegrid/core/repository"
)

// Machine drives the lifecycle of every request:
//
//	pending -> assigned -> accepted -> enroute -> arrived -> completed
//
// with side exits to reassigned (back to assigned under a new unit) and
// cancelled. Accept timeouts are watched by attempt-tagged timers; a timer
// whose tag no longer matches the request's current attempt is a stale
// no-op. All transitions for one request are serialized by a per-request
// mutex since driver accepts, admin reassigns and timer firings can race.
type Machine struct {
	repo    repository.Repository
	engine  *AssignmentEngine
	ranker  *ranking.Ranker
	emitter *events.Emitter
	sched   Scheduler
	metrics coremetrics.MetricsSink
	log     logger.Logger

	acceptTimeout time.Duration
	retryInterval time.Duration
	radiusKm      float64

	mu   sync.Mutex
	reqs map[string]*requestCtx
}

// requestCtx is the per-request bookkeeping guarded by its own mutex.
type requestCtx struct {
	mu         sync.Mutex
	timer      TimerHandle
	retryTimer TimerHandle
	assignment *model.Assignment
	assignedAt time.Time
	tried      map[string]bool
	waiting    bool
}

// NewMachine creates the state machine.
func NewMachine(repo repository.Repository, engine *AssignmentEngine, ranker *ranking.Ranker, emitter *events.Emitter, sched Scheduler, sink coremetrics.MetricsSink, cfg Config, log logger.Logger) (*Machine, error) {
	if repo == nil || engine == nil || ranker == nil || emitter == nil || sched == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewMachine")
	}
	cfg.SetDefaults()
	return &Machine{
		repo:          repo,
		engine:        engine,
		ranker:        ranker,
		emitter:       emitter,
		sched:         sched,
		metrics:       sink,
		log:           log,
		acceptTimeout: cfg.AcceptTimeout(),
		retryInterval: cfg.RetryInterval(),
		radiusKm:      cfg.SearchRadiusKm,
		reqs:          make(map[string]*requestCtx),
	}, nil
}

// Run processes incoming requests until the context is canceled.
func (m *Machine) Run(ctx context.Context, requests <-chan model.Request) {
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return
			}
			if _, err := m.Submit(ctx, &req); err != nil {
				m.log.Errorf("submit request %s: %v", req.ID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit registers a new request, ranks candidate facilities and binds the
// nearest available ambulance. When no ambulance is free the request parks
// in waiting-for-resource and is retried on a fixed interval; that case
// returns the ranking result with a nil error.
func (m *Machine) Submit(ctx context.Context, req *model.Request) (ranking.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.State = model.StatePending
	if err := m.repo.CreateRequest(ctx, req); err != nil {
		return ranking.Result{}, err
	}
	detail := fmt.Sprintf("type=%s severity=%s", req.EmergencyType, req.Severity)
	if err := m.emitter.Emit(ctx, events.New(model.EventSOSCreated, req.ID, "", detail)); err != nil {
		return ranking.Result{}, err
	}

	res, err := m.ranker.Rank(ctx, *req, m.radiusKm)
	if err != nil {
		return ranking.Result{}, err
	}
	req.FacilityID = res.Best.Facility.ID
	if res.Backup != nil {
		req.BackupFacilityID = res.Backup.Facility.ID
	}
	if err := m.repo.UpdateRequest(ctx, *req); err != nil {
		return ranking.Result{}, err
	}
	m.recordRanking(req.ID, res)

	rc := m.rctx(req.ID)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err := m.assignLocked(ctx, rc, req); err != nil {
		if errors.Is(err, ErrNoResourceAvailable) {
			if werr := m.enterWaitingLocked(ctx, rc, req); werr != nil {
				return ranking.Result{}, werr
			}
			return res, nil
		}
		return ranking.Result{}, err
	}
	return res, nil
}

// Accept records the driver's acceptance of the current assignment. A
// concurrent timeout and accept resolve to exactly one winner: whichever
// takes the per-request lock first; the loser sees a stale attempt.
func (m *Machine) Accept(ctx context.Context, requestID, ambulanceID string) error {
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != model.StateAssigned {
		return fmt.Errorf("%w: accept from %s", ErrInvalidTransition, req.State)
	}
	if req.AmbulanceID != ambulanceID {
		m.log.Infof("accept from %s superseded on request %s", ambulanceID, requestID)
		return ErrStaleOperation
	}

	m.stopTimerLocked(rc)
	if rc.assignment != nil {
		rc.assignment.Outcome = model.OutcomeAccepted
		if err := m.repo.SaveAssignment(ctx, *rc.assignment); err != nil {
			return err
		}
		assignmentsTotal.WithLabelValues(model.OutcomeAccepted.String()).Inc()
	}
	req.State = model.StateAccepted
	if err := m.repo.UpdateRequest(ctx, req); err != nil {
		return err
	}
	if err := m.emitter.Emit(ctx, events.New(model.EventDriverAccepted, requestID, ambulanceID, "")); err != nil {
		return err
	}

	latency := time.Since(rc.assignedAt)
	acceptLatency.WithLabelValues(req.EmergencyType).Observe(latency.Seconds())
	if lr, ok := m.metrics.(coremetrics.LatencyRecorder); ok && lr != nil {
		if err := lr.RecordAcceptLatency([]coremetrics.AcceptLatency{{
			RequestID:   requestID,
			AmbulanceID: ambulanceID,
			Accepted:    true,
			Latency:     latency,
		}}); err != nil {
			m.log.Errorf("latency metrics error: %v", err)
		}
	}
	return nil
}

// MarkEnRoute transitions accepted -> enroute.
func (m *Machine) MarkEnRoute(ctx context.Context, requestID string) error {
	return m.advance(ctx, requestID, model.StateAccepted, model.StateEnRoute)
}

// MarkArrived transitions enroute -> arrived.
func (m *Machine) MarkArrived(ctx context.Context, requestID string) error {
	return m.advance(ctx, requestID, model.StateEnRoute, model.StateArrived)
}

// advance performs a simple driver status transition and emits
// status_changed.
func (m *Machine) advance(ctx context.Context, requestID string, from, to model.RequestState) error {
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != from {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, to, req.State)
	}
	req.State = to
	if err := m.repo.UpdateRequest(ctx, req); err != nil {
		return err
	}
	return m.emitter.Emit(ctx, events.New(model.EventStatusChanged, requestID, req.AmbulanceID, to.String()))
}

// Complete finishes the trip: releases the ambulance, records the total
// response time and transitions to the terminal completed state.
func (m *Machine) Complete(ctx context.Context, requestID string) error {
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.State != model.StateArrived {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, req.State)
	}
	ambulanceID := req.AmbulanceID
	if err := m.engine.Release(ctx, &req, rc.assignment, model.OutcomeAccepted); err != nil {
		return err
	}
	req.State = model.StateCompleted
	if err := m.repo.UpdateRequest(ctx, req); err != nil {
		return err
	}
	if err := m.emitter.Emit(ctx, events.New(model.EventTripCompleted, requestID, ambulanceID, "")); err != nil {
		return err
	}

	elapsed := time.Since(req.CreatedAt)
	responseTime.WithLabelValues(req.EmergencyType).Observe(elapsed.Seconds())
	if rr, ok := m.metrics.(coremetrics.ResponseTimeRecorder); ok && rr != nil {
		if err := rr.RecordResponseTime(requestID, req.EmergencyType, elapsed); err != nil {
			m.log.Errorf("response time metrics error: %v", err)
		}
	}
	m.cleanup(requestID)
	return nil
}

// Cancel aborts the request from any non-terminal state. A second cancel is
// a no-op, not an error; cancelling a completed request is rejected.
func (m *Machine) Cancel(ctx context.Context, requestID string) error {
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	switch req.State {
	case model.StateCancelled:
		return nil
	case model.StateCompleted:
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, req.State)
	}

	m.stopTimerLocked(rc)
	m.stopRetryLocked(rc)
	ambulanceID := req.AmbulanceID
	if ambulanceID != "" {
		if err := m.engine.Release(ctx, &req, rc.assignment, model.OutcomeSuperseded); err != nil {
			return err
		}
	}
	req.State = model.StateCancelled
	req.WaitingForResource = false
	if err := m.repo.UpdateRequest(ctx, req); err != nil {
		return err
	}
	if err := m.emitter.Emit(ctx, events.New(model.EventRequestCancelled, requestID, ambulanceID, "")); err != nil {
		return err
	}
	m.cleanup(requestID)
	return nil
}

// Reassign is the operator override. Allowed from assigned, accepted or
// enroute, regardless of elapsed time: dispatchers may need to swap a unit
// after acceptance (breakdown). ambulanceID selects an explicit unit; empty
// means pick the nearest not yet tried.
func (m *Machine) Reassign(ctx context.Context, requestID, ambulanceID string) error {
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	switch req.State {
	case model.StateAssigned, model.StateAccepted, model.StateEnRoute:
	default:
		return fmt.Errorf("%w: reassign from %s", ErrInvalidTransition, req.State)
	}

	// An explicit pick of an unavailable unit is an operator error; reject
	// it before giving up the currently bound unit.
	if ambulanceID != "" {
		amb, err := m.repo.GetAmbulance(ctx, ambulanceID)
		if err != nil {
			return err
		}
		if amb.Status != model.AmbulanceAvailable {
			return ErrNoResourceAvailable
		}
	}

	m.stopTimerLocked(rc)
	previous := req.AmbulanceID
	if previous != "" {
		if err := m.engine.Release(ctx, &req, rc.assignment, model.OutcomeSuperseded); err != nil {
			return err
		}
		rc.tried[previous] = true
	}

	var asn model.Assignment
	if ambulanceID != "" {
		asn, err = m.engine.AssignSpecific(ctx, &req, ambulanceID)
	} else {
		asn, err = m.engine.AssignNearest(ctx, &req, rc.tried)
	}
	if err != nil {
		if errors.Is(err, ErrNoResourceAvailable) {
			return m.enterWaitingLocked(ctx, rc, &req)
		}
		return err
	}
	rc.assignment = &asn
	rc.assignedAt = time.Now()
	rc.tried[asn.AmbulanceID] = true
	m.startTimerLocked(rc, req.ID, req.Attempt)

	detail := fmt.Sprintf("manual attempt=%d previous=%s", req.Attempt, previous)
	return m.emitter.Emit(ctx, events.New(model.EventDriverReassigned, requestID, asn.AmbulanceID, detail))
}

// recordRanking forwards the scored candidate list to sinks that keep
// ranking history.
func (m *Machine) recordRanking(requestID string, res ranking.Result) {
	rr, ok := m.metrics.(coremetrics.RankingRecorder)
	if !ok || rr == nil {
		return
	}
	candidates := []ranking.Candidate{res.Best}
	if res.Backup != nil {
		candidates = append(candidates, *res.Backup)
	}
	candidates = append(candidates, res.Others...)
	ids := make([]string, len(candidates))
	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Facility.ID
		scores[i] = c.Breakdown.Total
	}
	if err := rr.RecordRanking(requestID, ids, scores); err != nil {
		m.log.Errorf("ranking metrics error: %v", err)
	}
}

// assignLocked binds the nearest untried ambulance and starts the accept
// timer. Caller holds rc.mu.
func (m *Machine) assignLocked(ctx context.Context, rc *requestCtx, req *model.Request) error {
	asn, err := m.engine.AssignNearest(ctx, req, rc.tried)
	if err != nil {
		return err
	}
	rc.assignment = &asn
	rc.assignedAt = time.Now()
	rc.tried[asn.AmbulanceID] = true
	m.startTimerLocked(rc, req.ID, req.Attempt)
	return nil
}

// startTimerLocked schedules the accept-timeout watchdog tagged with the
// attempt active right now. Caller holds rc.mu.
func (m *Machine) startTimerLocked(rc *requestCtx, requestID string, attempt uint64) {
	rc.timer = m.sched.ScheduleAfter(m.acceptTimeout, func() {
		m.onAcceptTimeout(requestID, attempt)
	})
}

// onAcceptTimeout fires when a driver did not accept in time. The attempt
// tag is checked against the request's current attempt under the lock; a
// mismatch means an accept or reassign won the race and the timer is a
// no-op.
func (m *Machine) onAcceptTimeout(requestID string, attempt uint64) {
	ctx := context.Background()
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		m.log.Errorf("accept timeout on %s: %v", requestID, err)
		return
	}
	if req.State != model.StateAssigned || req.Attempt != attempt {
		m.log.Debugw("stale accept timer ignored", map[string]any{
			"request_id":    requestID,
			"timer_attempt": attempt,
			"attempt":       req.Attempt,
			"state":         req.State.String(),
		})
		return
	}

	expired := req.AmbulanceID
	m.log.Warnf("ambulance %s did not accept request %s in time, reassigning", expired, requestID)
	if lr, ok := m.metrics.(coremetrics.LatencyRecorder); ok && lr != nil {
		if err := lr.RecordAcceptLatency([]coremetrics.AcceptLatency{{
			RequestID:   requestID,
			AmbulanceID: expired,
			Accepted:    false,
			Latency:     time.Since(rc.assignedAt),
		}}); err != nil {
			m.log.Errorf("latency metrics error: %v", err)
		}
	}
	if err := m.engine.Release(ctx, &req, rc.assignment, model.OutcomeExpired); err != nil {
		m.log.Errorf("release expired ambulance on %s: %v", requestID, err)
		return
	}
	rc.tried[expired] = true

	if err := m.assignLocked(ctx, rc, &req); err != nil {
		if errors.Is(err, ErrNoResourceAvailable) {
			if werr := m.enterWaitingLocked(ctx, rc, &req); werr != nil {
				m.log.Errorf("park request %s: %v", requestID, werr)
			}
			return
		}
		m.log.Errorf("reassign request %s: %v", requestID, err)
		return
	}
	detail := fmt.Sprintf("timeout attempt=%d previous=%s", req.Attempt, expired)
	if err := m.emitter.Emit(ctx, events.New(model.EventDriverReassigned, requestID, req.AmbulanceID, detail)); err != nil {
		m.log.Errorf("emit driver_reassigned: %v", err)
	}
}

// enterWaitingLocked parks the request without a bound unit and schedules
// the retry tick. Caller holds rc.mu.
func (m *Machine) enterWaitingLocked(ctx context.Context, rc *requestCtx, req *model.Request) error {
	req.State = model.StatePending
	req.WaitingForResource = true
	req.AmbulanceID = ""
	if err := m.repo.UpdateRequest(ctx, *req); err != nil {
		return err
	}
	// Parking means every unit has been tried this cycle. The next retry
	// starts over from the full pool, otherwise a released unit could never
	// be rebound.
	rc.tried = make(map[string]bool)
	if !rc.waiting {
		rc.waiting = true
		waitingRequests.Inc()
		if err := m.emitter.Emit(ctx, events.New(model.EventWaitingForResource, req.ID, "", "")); err != nil {
			return err
		}
	}
	m.scheduleRetryLocked(rc, req.ID)
	return nil
}

// scheduleRetryLocked arms the next waiting-for-resource tick. Caller holds
// rc.mu.
func (m *Machine) scheduleRetryLocked(rc *requestCtx, requestID string) {
	rc.retryTimer = m.sched.ScheduleAfter(m.retryInterval, func() {
		m.onRetryTick(requestID)
	})
}

// onRetryTick attempts to bind a unit for a parked request. It keeps
// rescheduling itself until a unit frees up or the request is cancelled.
func (m *Machine) onRetryTick(requestID string) {
	ctx := context.Background()
	rc := m.rctx(requestID)
	rc.mu.Lock()
	defer rc.mu.Unlock()

	req, err := m.repo.GetRequest(ctx, requestID)
	if err != nil {
		m.log.Errorf("retry tick on %s: %v", requestID, err)
		return
	}
	if req.State != model.StatePending || !req.WaitingForResource {
		rc.waiting = false
		return
	}
	if err := m.assignLocked(ctx, rc, &req); err != nil {
		if !errors.Is(err, ErrNoResourceAvailable) {
			m.log.Errorf("retry assign on %s: %v", requestID, err)
		}
		m.scheduleRetryLocked(rc, requestID)
		return
	}
	rc.waiting = false
	waitingRequests.Dec()
}

// rctx returns the per-request context, creating it on first use.
func (m *Machine) rctx(requestID string) *requestCtx {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.reqs[requestID]
	if !ok {
		rc = &requestCtx{tried: make(map[string]bool)}
		m.reqs[requestID] = rc
	}
	return rc
}

func (m *Machine) cleanup(requestID string) {
	m.mu.Lock()
	delete(m.reqs, requestID)
	m.mu.Unlock()
}

func (m *Machine) stopTimerLocked(rc *requestCtx) {
	if rc.timer != nil {
		rc.timer.Stop()
		rc.timer = nil
	}
}

func (m *Machine) stopRetryLocked(rc *requestCtx) {
	if rc.retryTimer != nil {
		rc.retryTimer.Stop()
		rc.retryTimer = nil
	}
	if rc.waiting {
		rc.waiting = false
		waitingRequests.Dec()
	}
}
