package metrics

import (
	"time"

	"github.com/rescuegrid/rescuegrid/core/model"
)

// AssignmentResult represents a per-attempt assignment event to be recorded.
type AssignmentResult struct {
	RequestID     string
	AmbulanceID   string
	EmergencyType string
	Attempt       uint64
	Outcome       model.AssignmentOutcome
	DistanceKm    float64
	Time          time.Time
}

// MetricsSink records assignment results for observability purposes.
type MetricsSink interface {
	RecordAssignmentResult(results []AssignmentResult) error
}

// AcceptLatency is the time between an ambulance being assigned and the
// driver accepting (or the attempt expiring).
type AcceptLatency struct {
	RequestID   string
	AmbulanceID string
	Accepted    bool
	Latency     time.Duration
}

// LatencyRecorder is implemented by sinks able to record accept latency.
type LatencyRecorder interface {
	RecordAcceptLatency(latencies []AcceptLatency) error
}

// ResponseTimeRecorder records the total response time of a completed trip,
// from request creation to completion.
type ResponseTimeRecorder interface {
	RecordResponseTime(requestID string, emergencyType string, d time.Duration) error
}

// RankingRecorder records the scored candidate list produced for a request.
type RankingRecorder interface {
	RecordRanking(requestID string, facilityIDs []string, scores []float64) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignmentResult([]AssignmentResult) error        { return nil }
func (NopSink) RecordAcceptLatency([]AcceptLatency) error              { return nil }
func (NopSink) RecordResponseTime(string, string, time.Duration) error { return nil }
func (NopSink) RecordRanking(string, []string, []float64) error        { return nil }
