// Package metrics provides the observability sinks: Prometheus collectors,
// InfluxDB line-protocol export and a fan-out combining both.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
)

// PromSink records dispatch activity in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	response    *prometheus.HistogramVec
}

// NewPromSink registers dispatch metrics on the default Prometheus
// registerer. The Prometheus server is started separately.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (coremetrics.MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_assignment_events_total",
		Help: "Total number of assignment attempts recorded by the sink",
	}, []string{"emergency_type", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_accept_latency_sink_seconds",
		Help:    "Time between assignment and driver response",
		Buckets: prometheus.DefBuckets,
	}, []string{"accepted"})
	response := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_response_time_sink_seconds",
		Help:    "Total response time from request creation to completion",
		Buckets: []float64{60, 300, 600, 1200, 1800, 3600},
	}, []string{"emergency_type"})

	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(response); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			response = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{assignments: assignments, latency: latency, response: response}, nil
}

// RecordAssignmentResult increments the counter for each attempt.
func (s *PromSink) RecordAssignmentResult(res []coremetrics.AssignmentResult) error {
	for _, r := range res {
		s.assignments.WithLabelValues(r.EmergencyType, r.Outcome.String()).Inc()
	}
	return nil
}

// RecordAcceptLatency records the accept latency histogram.
func (s *PromSink) RecordAcceptLatency(recs []coremetrics.AcceptLatency) error {
	for _, r := range recs {
		s.latency.WithLabelValues(strconv.FormatBool(r.Accepted)).Observe(r.Latency.Seconds())
	}
	return nil
}

// RecordResponseTime records the end-to-end response time histogram.
func (s *PromSink) RecordResponseTime(_ string, emergencyType string, d time.Duration) error {
	s.response.WithLabelValues(emergencyType).Observe(d.Seconds())
	return nil
}
