package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	assignmentsTotal *prometheus.CounterVec
	acceptLatency    *prometheus.HistogramVec
	waitingRequests  prometheus.Gauge
	responseTime     *prometheus.HistogramVec
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, prometheus.Gauge, *prometheus.HistogramVec) {
	asn := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ambulance_assignments_total",
			Help: "Number of assignment attempts by outcome",
		},
		[]string{"outcome"},
	)
	acc := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driver_accept_latency_seconds",
			Help:    "Latency between assignment and driver acceptance",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"emergency_type"},
	)
	wait := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "requests_waiting_for_resource",
			Help: "Requests currently parked waiting for an ambulance",
		},
	)
	resp := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_response_time_seconds",
			Help:    "Total response time from request creation to trip completion",
			Buckets: []float64{60, 300, 600, 1200, 1800, 3600},
		},
		[]string{"emergency_type"},
	)
	return asn, acc, wait, resp
}

func init() {
	assignmentsTotal, acceptLatency, waitingRequests, responseTime = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(assignmentsTotal, acceptLatency, waitingRequests, responseTime)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	assignmentsTotal, acceptLatency, waitingRequests, responseTime = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
