package metrics

import (
	"time"

	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
)

// MultiSink fans dispatch records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignmentResult forwards the record to all sinks, returning the
// first error encountered.
func (m *MultiSink) RecordAssignmentResult(res []coremetrics.AssignmentResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignmentResult(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordAcceptLatency forwards latency records when supported by the sink.
func (m *MultiSink) RecordAcceptLatency(recs []coremetrics.AcceptLatency) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(coremetrics.LatencyRecorder); ok {
			if err := lr.RecordAcceptLatency(recs); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordResponseTime forwards completion records when supported by the sink.
func (m *MultiSink) RecordResponseTime(requestID, emergencyType string, d time.Duration) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(coremetrics.ResponseTimeRecorder); ok {
			if err := rr.RecordResponseTime(requestID, emergencyType, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRanking forwards ranking snapshots when supported by the sink.
func (m *MultiSink) RecordRanking(requestID string, facilityIDs []string, scores []float64) error {
	for _, s := range m.Sinks {
		if rr, ok := s.(coremetrics.RankingRecorder); ok {
			if err := rr.RecordRanking(requestID, facilityIDs, scores); err != nil {
				return err
			}
		}
	}
	return nil
}
