package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuegrid/rescuegrid/core/model"
)

func defaultEngine() *Engine {
	var cfg Config
	cfg.SetDefaults()
	return NewEngine(cfg, DefaultRequirements())
}

func cardiacRequest() model.Request {
	return model.Request{
		ID:            "r1",
		Position:      model.Coordinate{Lat: 11.0168, Lng: 76.9558},
		EmergencyType: "cardiac",
	}
}

func TestReadinessOutweighsRawDistance(t *testing.T) {
	e := defaultEngine()
	req := cardiacRequest()

	ready := model.Facility{
		ID:       "ready",
		Position: model.Coordinate{Lat: 11.0348, Lng: 76.9558}, // about 2 km
		Capabilities: []string{
			"ICU", "Cath Lab", "Emergency Ward",
		},
		ICUBeds: 10, FreeICUBeds: 5, TotalBeds: 40, FreeGenBeds: 15,
		DoctorsOnDuty:         []string{"Cardiologist"},
		LoadPercentage:        40,
		HistoricalSuccessRate: 0.9,
	}
	closer := model.Facility{
		ID:       "closer",
		Position: model.Coordinate{Lat: 11.0258, Lng: 76.9558}, // about 1 km
		Capabilities: []string{
			"ICU", "Emergency Ward",
		},
		ICUBeds: 10, FreeICUBeds: 1, TotalBeds: 20, FreeGenBeds: 3,
		DoctorsOnDuty:         []string{"General Physician"},
		LoadPercentage:        80,
		HistoricalSuccessRate: 0.7,
	}

	readyScore := e.Score(req, ready, 15)
	closerScore := e.Score(req, closer, 15)

	assert.Greater(t, closerScore.Distance, readyScore.Distance)
	assert.Greater(t, readyScore.Total, closerScore.Total,
		"full cardiac readiness must beat a closer but unprepared facility")
}

func TestMissingDataScoresNeutralAndFlagsUnverified(t *testing.T) {
	e := defaultEngine()
	req := cardiacRequest()

	bare := model.Facility{
		ID:                    "bare",
		Position:              req.Position,
		HistoricalSuccessRate: -1,
		LoadPercentage:        -1,
	}
	b := e.Score(req, bare, 15)

	assert.Equal(t, 0.5, b.Facility)
	assert.Equal(t, 0.5, b.Beds)
	assert.Equal(t, 0.5, b.Specialist)
	assert.Equal(t, 0.5, b.History)
	assert.ElementsMatch(t, []string{"facility", "beds", "specialist", "history"}, b.Unverified)
	assert.Greater(t, b.Total, 0.0, "a facility is never excluded for missing data")
}

func TestSpecialistFloor(t *testing.T) {
	e := defaultEngine()
	req := cardiacRequest()

	noCardio := model.Facility{
		ID:            "f",
		Position:      req.Position,
		Capabilities:  []string{"ICU"},
		DoctorsOnDuty: []string{"General Physician"},
		ICUBeds:       5, FreeICUBeds: 2, TotalBeds: 10, FreeGenBeds: 5,
	}
	b := e.Score(req, noCardio, 15)
	assert.Equal(t, 0.3, b.Specialist, "no matching specialist still earns the floor")
}

func TestConfidenceDecayOnStaleStatus(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	e := NewEngine(cfg, DefaultRequirements()).WithClock(func() time.Time { return now })
	req := cardiacRequest()

	f := model.Facility{
		ID:            "f",
		Position:      req.Position,
		Capabilities:  []string{"ICU", "Cath Lab", "Emergency Ward"},
		DoctorsOnDuty: []string{"Cardiologist"},
		ICUBeds:       10, FreeICUBeds: 8, TotalBeds: 40, FreeGenBeds: 30,
		LoadPercentage:        10,
		HistoricalSuccessRate: 0.9,
	}

	f.LastUpdated = now.Add(-30 * time.Minute)
	fresh := e.Score(req, f, 15)
	assert.Equal(t, 1.0, fresh.Confidence, "within the staleness window")

	f.LastUpdated = now.Add(-5 * time.Hour)
	stale := e.Score(req, f, 15)
	assert.InDelta(t, math.Pow(cfg.DecayRate, 5), stale.Confidence, 1e-9)
	assert.Less(t, stale.Beds, fresh.Beds, "stale bed data is attenuated, not discarded")
	assert.Less(t, stale.Total, fresh.Total)
}

func TestSpecializationBonus(t *testing.T) {
	e := defaultEngine()
	req := cardiacRequest()

	f := model.Facility{
		ID:            "f",
		Position:      req.Position,
		Capabilities:  []string{"ICU", "Cath Lab", "Emergency Ward"},
		DoctorsOnDuty: []string{"Cardiologist"},
		ICUBeds:       10, FreeICUBeds: 5, TotalBeds: 40, FreeGenBeds: 15,
		LoadPercentage:        40,
		HistoricalSuccessRate: 0.9,
	}
	plain := e.Score(req, f, 15)

	f.Specializations = []string{"Cardiac"}
	boosted := e.Score(req, f, 15)
	assert.InDelta(t, plain.Total*1.10, boosted.Total, 1e-9)
	assert.LessOrEqual(t, boosted.Total, 1.0)
}

func TestUnknownCategoryFallsBackToGeneral(t *testing.T) {
	e := defaultEngine()
	req := cardiacRequest()
	req.EmergencyType = "alien abduction"

	f := model.Facility{
		ID:            "f",
		Position:      req.Position,
		Capabilities:  []string{"Emergency Ward"},
		DoctorsOnDuty: []string{"General Physician"},
		ICUBeds:       2, FreeICUBeds: 1, TotalBeds: 10, FreeGenBeds: 5,
	}
	b := e.Score(req, f, 15)
	assert.Equal(t, 1.0, b.Specialist, "general physician satisfies the fallback category")
}

func TestDistanceScoreBounds(t *testing.T) {
	assert.Equal(t, 1.0, distanceScore(0, 15))
	assert.Equal(t, 0.0, distanceScore(15, 15))
	assert.Equal(t, 0.0, distanceScore(40, 15))
	assert.InDelta(t, 0.5, distanceScore(7.5, 15), 1e-9)
}

func TestConfigValidateWeights(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	cfg.WeightHistory += 0.2
	assert.ErrorIs(t, cfg.Validate(), ErrBadWeights)
}

func TestDefaultRequirementsValid(t *testing.T) {
	table := DefaultRequirements()
	require.NoError(t, table.Validate())

	_, ok := table.Lookup("cardiac")
	assert.True(t, ok)
	_, ok = table.Lookup("unknown")
	assert.False(t, ok, "unknown categories fall back")

	cats := table.Categories()
	assert.Contains(t, cats, "trauma")
	assert.IsIncreasing(t, cats)
}
