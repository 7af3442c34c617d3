package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/rescuegrid/rescuegrid/core/metrics"
	"github.com/rescuegrid/rescuegrid/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns
// a NopSink if the health check fails, so metrics never block dispatch.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordAssignmentResult writes each assignment attempt as a point.
func (s *InfluxSink) RecordAssignmentResult(res []coremetrics.AssignmentResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range res {
		p := write.NewPointWithMeasurement("assignment_event").
			AddTag("request_id", r.RequestID).
			AddTag("ambulance_id", r.AmbulanceID).
			AddTag("emergency_type", r.EmergencyType).
			AddTag("outcome", r.Outcome.String()).
			AddTag("component", "assignment_engine").
			AddField("attempt", int64(r.Attempt)).
			AddField("distance_km", round3(r.DistanceKm)).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordAcceptLatency writes the driver response latency.
func (s *InfluxSink) RecordAcceptLatency(recs []coremetrics.AcceptLatency) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range recs {
		p := write.NewPointWithMeasurement("driver_accept").
			AddTag("request_id", r.RequestID).
			AddTag("ambulance_id", r.AmbulanceID).
			AddTag("accepted", strconv.FormatBool(r.Accepted)).
			AddTag("component", "state_machine").
			AddField("latency_ms", round3(r.Latency.Seconds()*1000)).
			SetTime(time.Now())
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordResponseTime writes the end-to-end response time of a completed
// trip.
func (s *InfluxSink) RecordResponseTime(requestID, emergencyType string, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("trip_completed").
		AddTag("request_id", requestID).
		AddTag("emergency_type", emergencyType).
		AddTag("component", "state_machine").
		AddField("response_time_s", round3(d.Seconds())).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRanking writes the scored candidate list of a ranking run.
func (s *InfluxSink) RecordRanking(requestID string, facilityIDs []string, scores []float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := time.Now()
	for i, id := range facilityIDs {
		if i >= len(scores) {
			break
		}
		p := write.NewPointWithMeasurement("facility_ranking").
			AddTag("request_id", requestID).
			AddTag("facility_id", id).
			AddTag("component", "ranker").
			AddField("rank", int64(i)).
			AddField("score", round3(scores[i])).
			SetTime(now)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
