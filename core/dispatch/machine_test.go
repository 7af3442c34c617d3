package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuegrid/rescuegrid/core/events"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/ranking"
	"github.com/rescuegrid/rescuegrid/core/repository"
	"github.com/rescuegrid/rescuegrid/core/scoring"
	"github.com/rescuegrid/rescuegrid/infra/logger"
	"github.com/rescuegrid/rescuegrid/infra/store"
)

func newTestRanker(repo repository.Repository, cfg scoring.Config) *ranking.Ranker {
	return ranking.NewRanker(repo, scoring.NewEngine(cfg, scoring.DefaultRequirements()))
}

// fakeScheduler captures scheduled callbacks so tests fire timers
// deterministically instead of sleeping.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

func (s *fakeScheduler) ScheduleAfter(d time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{d: d, fn: fn}
	s.timers = append(s.timers, ft)
	return ft
}

// fire runs the i-th scheduled callback unless it was stopped.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	ft := s.timers[i]
	s.mu.Unlock()

	ft.mu.Lock()
	if ft.stopped || ft.fired {
		ft.mu.Unlock()
		return
	}
	ft.fired = true
	ft.mu.Unlock()
	ft.fn()
}

func (s *fakeScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func testFacilities() []model.Facility {
	return []model.Facility{
		{
			ID:       "f1",
			Name:     "City General",
			Position: model.Coordinate{Lat: 11.03, Lng: 76.96},
			Capabilities: []string{
				"ICU", "Emergency Ward", "Cath Lab",
			},
			TotalBeds: 40, ICUBeds: 10, FreeICUBeds: 5, FreeGenBeds: 15,
			DoctorsOnDuty:         []string{"Cardiologist", "General Physician"},
			LoadPercentage:        40,
			HistoricalSuccessRate: 0.9,
		},
		{
			ID:       "f2",
			Name:     "Lakeside Clinic",
			Position: model.Coordinate{Lat: 11.01, Lng: 76.95},
			Capabilities: []string{
				"ICU", "Emergency Ward",
			},
			TotalBeds: 20, ICUBeds: 4, FreeICUBeds: 1, FreeGenBeds: 3,
			DoctorsOnDuty:         []string{"General Physician"},
			LoadPercentage:        80,
			HistoricalSuccessRate: 0.7,
		},
	}
}

func testAmbulances() []model.Ambulance {
	return []model.Ambulance{
		{ID: "amb-near", Position: model.Coordinate{Lat: 11.02, Lng: 76.955}},
		{ID: "amb-mid", Position: model.Coordinate{Lat: 11.05, Lng: 76.97}},
		{ID: "amb-far", Position: model.Coordinate{Lat: 11.10, Lng: 77.00}},
	}
}

func newTestMachine(t *testing.T, ambulances []model.Ambulance) (*Machine, *store.MemoryStore, *fakeScheduler) {
	t.Helper()
	ResetMetrics(nil)

	repo := store.NewMemoryStore()
	repo.SeedFacilities(testFacilities())
	require.NoError(t, repo.SeedAmbulances(ambulances))

	log := logger.NopLogger{}
	emitter := events.NewEmitter(repo, nil, events.NopNotifier{}, log)
	engine, err := NewAssignmentEngine(repo, emitter, nil, time.Minute, log)
	require.NoError(t, err)

	var scfg scoring.Config
	scfg.SetDefaults()
	ranker := newTestRanker(repo, scfg)

	sched := &fakeScheduler{}
	m, err := NewMachine(repo, engine, ranker, emitter, sched, nil, Config{}, log)
	require.NoError(t, err)
	return m, repo, sched
}

func newRequest() *model.Request {
	return &model.Request{
		ID:            "req-1",
		Position:      model.Coordinate{Lat: 11.0168, Lng: 76.9558},
		EmergencyType: "cardiac",
		Severity:      model.SeverityHigh,
	}
}

func TestSubmitAssignsNearestAndRanks(t *testing.T) {
	m, repo, sched := newTestMachine(t, testAmbulances())
	ctx := context.Background()

	res, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)
	assert.Equal(t, "f1", res.Best.Facility.ID, "cardiac requirements outweigh raw distance")
	require.NotNil(t, res.Backup)
	assert.Equal(t, "f2", res.Backup.Facility.ID)

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, req.State)
	assert.Equal(t, "amb-near", req.AmbulanceID)
	assert.Equal(t, uint64(1), req.Attempt)
	assert.Equal(t, "f1", req.FacilityID)
	assert.Equal(t, "f2", req.BackupFacilityID)

	amb, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceBusy, amb.Status)
	assert.Equal(t, "req-1", amb.RequestID)

	assert.Equal(t, 1, sched.scheduled(), "accept timer armed")
}

func TestAcceptStopsTimerAndRecordsAssignment(t *testing.T) {
	m, repo, sched := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	require.NoError(t, m.Accept(ctx, "req-1", "amb-near"))

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, req.State)

	// The expired timer must be a no-op after acceptance.
	sched.fire(0)
	req, err = repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, req.State)
	assert.Equal(t, "amb-near", req.AmbulanceID)

	asns, err := repo.AssignmentsForRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, asns, 1)
	assert.Equal(t, model.OutcomeAccepted, asns[0].Outcome)
}

func TestAcceptTimeoutReassignsNextNearest(t *testing.T) {
	m, repo, sched := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	sched.fire(0)

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, req.State)
	assert.Equal(t, "amb-mid", req.AmbulanceID, "next nearest after the expired unit")
	assert.Equal(t, uint64(2), req.Attempt)

	released, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceAvailable, released.Status)
	assert.Empty(t, released.RequestID)

	asns, err := repo.AssignmentsForRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, asns, 2)
	assert.Equal(t, model.OutcomeExpired, asns[0].Outcome)
	assert.Equal(t, model.OutcomePending, asns[1].Outcome)

	// The expired unit is excluded from later attempts on this request.
	sched.fire(1)
	req, err = repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "amb-far", req.AmbulanceID)
	assert.Equal(t, uint64(3), req.Attempt)
}

func TestLateAcceptAfterTimeoutIsStale(t *testing.T) {
	m, repo, sched := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	sched.fire(0)

	err = m.Accept(ctx, "req-1", "amb-near")
	assert.ErrorIs(t, err, ErrStaleOperation, "first driver lost the race")

	require.NoError(t, m.Accept(ctx, "req-1", "amb-mid"))
	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAccepted, req.State)
	assert.Equal(t, "amb-mid", req.AmbulanceID)
}

func TestNoResourceParksAndRetries(t *testing.T) {
	m, repo, sched := newTestMachine(t, nil)
	ctx := context.Background()

	res, err := m.Submit(ctx, newRequest())
	require.NoError(t, err, "no free unit is not an error, the request parks")
	assert.Equal(t, "f1", res.Best.Facility.ID)

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, req.State)
	assert.True(t, req.WaitingForResource)
	assert.Empty(t, req.AmbulanceID)
	require.Equal(t, 1, sched.scheduled(), "retry tick armed")

	// Still nothing free: the tick reschedules itself.
	sched.fire(0)
	require.Equal(t, 2, sched.scheduled())

	// A unit frees up before the next tick.
	require.NoError(t, repo.SeedAmbulances(testAmbulances()[:1]))
	sched.fire(1)

	req, err = repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, req.State)
	assert.Equal(t, "amb-near", req.AmbulanceID)
	assert.False(t, req.WaitingForResource)
	assert.Equal(t, uint64(1), req.Attempt)
}

func TestRetryAfterAllUnitsTriedFallsBackToFullPool(t *testing.T) {
	m, repo, sched := newTestMachine(t, testAmbulances()[:1])
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	// The only unit times out; nothing untried remains and the request parks.
	sched.fire(0)
	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, req.State)
	assert.True(t, req.WaitingForResource)
	assert.Empty(t, req.AmbulanceID)

	released, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	require.Equal(t, model.AmbulanceAvailable, released.Status)

	// The released unit is back in the pool; the next tick must rebind it
	// rather than excluding it forever.
	sched.fire(1)
	req, err = repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, req.State)
	assert.Equal(t, "amb-near", req.AmbulanceID)
	assert.Equal(t, uint64(2), req.Attempt)
	assert.False(t, req.WaitingForResource)
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	m, _, _ := newTestMachine(t, testAmbulances())
	requests := make(chan model.Request)
	close(requests)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), requests)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the request channel closed")
	}
}

func TestDriverProgressAndComplete(t *testing.T) {
	m, repo, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)
	require.NoError(t, m.Accept(ctx, "req-1", "amb-near"))

	assert.ErrorIs(t, m.MarkArrived(ctx, "req-1"), ErrInvalidTransition, "cannot arrive before enroute")
	require.NoError(t, m.MarkEnRoute(ctx, "req-1"))
	require.NoError(t, m.MarkArrived(ctx, "req-1"))
	require.NoError(t, m.Complete(ctx, "req-1"))

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, req.State)
	assert.Empty(t, req.AmbulanceID)

	amb, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceAvailable, amb.Status)

	evs, err := repo.EventsForRequest(ctx, "req-1")
	require.NoError(t, err)
	kinds := make([]model.EventKind, len(evs))
	for i, ev := range evs {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []model.EventKind{
		model.EventSOSCreated,
		model.EventAmbulanceAssigned,
		model.EventDriverAccepted,
		model.EventStatusChanged,
		model.EventStatusChanged,
		model.EventTripCompleted,
	}, kinds)
}

func TestCancelIsIdempotent(t *testing.T) {
	m, repo, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, "req-1"))
	require.NoError(t, m.Cancel(ctx, "req-1"), "second cancel is a no-op")

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, req.State)

	amb, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceAvailable, amb.Status)

	evs, err := repo.EventsForRequest(ctx, "req-1")
	require.NoError(t, err)
	cancels := 0
	for _, ev := range evs {
		if ev.Kind == model.EventRequestCancelled {
			cancels++
		}
	}
	assert.Equal(t, 1, cancels, "repeat cancel emits no second event")
}

func TestCancelCompletedRejected(t *testing.T) {
	m, _, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)
	require.NoError(t, m.Accept(ctx, "req-1", "amb-near"))
	require.NoError(t, m.MarkEnRoute(ctx, "req-1"))
	require.NoError(t, m.MarkArrived(ctx, "req-1"))
	require.NoError(t, m.Complete(ctx, "req-1"))

	assert.ErrorIs(t, m.Cancel(ctx, "req-1"), ErrInvalidTransition)
}

func TestCancelWaitingStopsRetry(t *testing.T) {
	m, repo, sched := newTestMachine(t, nil)
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(ctx, "req-1"))
	sched.fire(0)

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, req.State)
	assert.False(t, req.WaitingForResource)
}

func TestReassignManual(t *testing.T) {
	m, repo, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)
	require.NoError(t, m.Accept(ctx, "req-1", "amb-near"))

	require.NoError(t, m.Reassign(ctx, "req-1", "amb-far"))

	req, err := repo.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateAssigned, req.State, "reassignment restarts the accept cycle")
	assert.Equal(t, "amb-far", req.AmbulanceID)
	assert.Equal(t, uint64(2), req.Attempt)

	prev, err := repo.GetAmbulance(ctx, "amb-near")
	require.NoError(t, err)
	assert.Equal(t, model.AmbulanceAvailable, prev.Status)

	asns, err := repo.AssignmentsForRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, asns, 2)
	assert.Equal(t, model.OutcomeSuperseded, asns[0].Outcome)
}

func TestReassignBusyUnitRejected(t *testing.T) {
	m, _, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)

	other := newRequest()
	other.ID = "req-2"
	_, err = m.Submit(ctx, other)
	require.NoError(t, err)

	// req-2 holds amb-mid; forcing it onto req-1 must fail.
	err = m.Reassign(ctx, "req-1", "amb-mid")
	assert.ErrorIs(t, err, ErrNoResourceAvailable)
}

func TestReassignFromTerminalRejected(t *testing.T) {
	m, _, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()
	_, err := m.Submit(ctx, newRequest())
	require.NoError(t, err)
	require.NoError(t, m.Cancel(ctx, "req-1"))

	assert.ErrorIs(t, m.Reassign(ctx, "req-1", ""), ErrInvalidTransition)
}

func TestConcurrentAcceptAndTimeoutOneWinner(t *testing.T) {
	for i := 0; i < 20; i++ {
		m, repo, sched := newTestMachine(t, testAmbulances())
		ctx := context.Background()
		_, err := m.Submit(ctx, newRequest())
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		var acceptErr error
		go func() {
			defer wg.Done()
			acceptErr = m.Accept(ctx, "req-1", "amb-near")
		}()
		go func() {
			defer wg.Done()
			sched.fire(0)
		}()
		wg.Wait()

		req, err := repo.GetRequest(ctx, "req-1")
		require.NoError(t, err)
		if acceptErr == nil {
			assert.Equal(t, model.StateAccepted, req.State)
			assert.Equal(t, "amb-near", req.AmbulanceID)
		} else {
			assert.ErrorIs(t, acceptErr, ErrStaleOperation)
			assert.Equal(t, model.StateAssigned, req.State)
			assert.Equal(t, "amb-mid", req.AmbulanceID)
		}

		// Whichever side won, every ambulance is either free or bound to
		// exactly this request.
		for _, id := range []string{"amb-near", "amb-mid", "amb-far"} {
			amb, err := repo.GetAmbulance(ctx, id)
			require.NoError(t, err)
			require.NoError(t, amb.Validate())
			if amb.Status == model.AmbulanceBusy {
				assert.Equal(t, "req-1", amb.RequestID)
			}
		}
	}
}

func TestConcurrentSubmitsNeverShareAUnit(t *testing.T) {
	m, repo, _ := newTestMachine(t, testAmbulances())
	ctx := context.Background()

	ids := []string{"req-1", "req-2", "req-3"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			req := newRequest()
			req.ID = id
			_, err := m.Submit(ctx, req)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	seen := make(map[string]string)
	for _, id := range ids {
		req, err := repo.GetRequest(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.StateAssigned, req.State)
		require.NotEmpty(t, req.AmbulanceID)
		if prior, ok := seen[req.AmbulanceID]; ok {
			t.Fatalf("ambulance %s bound to both %s and %s", req.AmbulanceID, prior, id)
		}
		seen[req.AmbulanceID] = id
	}
}
