// Package scoring computes the composite readiness score of a facility for
// an emergency request. Six weighted factors are combined: facility match,
// distance, bed availability, specialist presence, predicted availability at
// ETA and historical success rate. Missing inputs degrade to a neutral 0.5
// instead of failing, and stale facility status is attenuated by a
// confidence multiplier rather than discarded.
package scoring

import (
	"errors"
	"math"
	"time"

	"github.com/rescuegrid/rescuegrid/core/geo"
	"github.com/rescuegrid/rescuegrid/core/model"
)

// ErrBadWeights is returned when the configured weights do not sum to 1.0.
var ErrBadWeights = errors.New("scoring: weights must sum to 1.0")

const (
	neutralScore = 0.5
	// specialistFloor is the partial credit granted when no matching
	// specialist is on duty. Never zero: general capability still counts.
	specialistFloor = 0.3
	// fillRatePerLoad converts the facility load fraction into a bed-score
	// decay per hour for the prediction factor.
	fillRatePerLoad = 0.05
	// specializationBonus is applied when the facility explicitly lists the
	// emergency category.
	specializationBonus = 1.10
)

// Breakdown carries the six named sub-scores plus the final value. Callers
// need the full breakdown, not just the scalar: the UI surfaces it and the
// audit trail persists it.
type Breakdown struct {
	Facility   float64 `json:"facility"`
	Distance   float64 `json:"distance"`
	Beds       float64 `json:"beds"`
	Specialist float64 `json:"specialist"`
	Prediction float64 `json:"prediction"`
	History    float64 `json:"history"`

	// Unverified names the sub-scores that were defaulted to neutral because
	// their inputs were entirely absent.
	Unverified []string `json:"unverified,omitempty"`

	// Confidence is the staleness multiplier applied to status-derived
	// sub-scores; 1.0 means fresh data.
	Confidence float64 `json:"confidence"`

	DistanceKm float64 `json:"distance_km"`
	ETAMinutes float64 `json:"eta_minutes"`
	Total      float64 `json:"total"`
}

// Engine scores (request, facility) pairs.
type Engine struct {
	cfg  Config
	reqs RequirementTable
	now  func() time.Time
}

// NewEngine creates a scoring engine. The requirement table must already be
// validated.
func NewEngine(cfg Config, reqs RequirementTable) *Engine {
	return &Engine{cfg: cfg, reqs: reqs, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Score computes the readiness breakdown of the facility for the request.
// radiusKm is the active search radius used to normalize the distance factor.
func (e *Engine) Score(req model.Request, f model.Facility, radiusKm float64) Breakdown {
	requirement, _ := e.reqs.Lookup(req.EmergencyType)

	var b Breakdown
	b.DistanceKm = geo.DistanceKm(req.Position, f.Position)
	b.ETAMinutes = geo.ETAMinutes(b.DistanceKm, e.cfg.AvgSpeedKmh)
	b.Confidence = e.confidence(f)

	b.Facility = e.facilityScore(f, requirement, &b)
	b.Distance = distanceScore(b.DistanceKm, radiusKm)
	b.Beds = e.bedScore(f, &b) * b.Confidence
	b.Specialist = e.specialistScore(f, requirement, &b) * b.Confidence
	b.Prediction = predictionScore(b.Beds, f, b.ETAMinutes)
	b.History = e.historyScore(f, &b)

	total := e.cfg.WeightFacility*b.Facility +
		e.cfg.WeightDistance*b.Distance +
		e.cfg.WeightBeds*b.Beds +
		e.cfg.WeightSpecialist*b.Specialist +
		e.cfg.WeightPrediction*b.Prediction +
		e.cfg.WeightHistory*b.History

	if f.Specializes(req.EmergencyType) {
		total *= specializationBonus
	}
	b.Total = clamp01(total)
	return b
}

// confidence returns decayRate^hoursSinceUpdate once the status is older
// than the staleness window, 1.0 otherwise. Facilities that never reported
// keep full confidence; their missing fields already degrade to neutral.
func (e *Engine) confidence(f model.Facility) float64 {
	if f.LastUpdated.IsZero() {
		return 1.0
	}
	hours := e.now().Sub(f.LastUpdated).Hours()
	if hours <= e.cfg.StalenessHours {
		return 1.0
	}
	return math.Pow(e.cfg.DecayRate, hours)
}

// facilityScore blends required capabilities (80%) with nice-to-have ones
// (20%). An empty requirement list scores 1.0.
func (e *Engine) facilityScore(f model.Facility, req Requirement, b *Breakdown) float64 {
	if len(req.Facilities) == 0 {
		return 1.0
	}
	if len(f.Capabilities) == 0 {
		b.Unverified = append(b.Unverified, "facility")
		return neutralScore
	}
	matched := 0
	for _, name := range req.Facilities {
		if f.HasCapability(name) {
			matched++
		}
	}
	requiredScore := float64(matched) / float64(len(req.Facilities))

	niceScore := neutralScore
	if len(req.NiceToHave) > 0 {
		n := 0
		for _, name := range req.NiceToHave {
			if f.HasCapability(name) {
				n++
			}
		}
		niceScore = float64(n) / float64(len(req.NiceToHave))
	}
	return 0.8*requiredScore + 0.2*niceScore
}

// distanceScore is 1 at the request position and clamps to 0 at or beyond
// the search radius.
func distanceScore(distanceKm, radiusKm float64) float64 {
	if radiusKm <= 0 {
		radiusKm = 15
	}
	return clamp01(1 - math.Min(1, distanceKm/radiusKm))
}

// bedScore weighs ICU availability (50%), general beds (25%) and load
// headroom (25%). Entirely absent bed data scores neutral.
func (e *Engine) bedScore(f model.Facility, b *Breakdown) float64 {
	if f.ICUBeds <= 0 && f.TotalBeds <= 0 {
		b.Unverified = append(b.Unverified, "beds")
		return neutralScore
	}
	icu := neutralScore
	if f.ICUBeds > 0 {
		icu = float64(f.FreeICUBeds) / float64(f.ICUBeds)
	}
	gen := neutralScore
	if f.TotalBeds > 0 {
		gen = float64(f.FreeGenBeds) / float64(f.TotalBeds)
	}
	load := f.LoadPercentage
	if load < 0 {
		load = 50
	}
	headroom := 1 - clamp01(load/100)
	return clamp01(0.50*icu + 0.25*gen + 0.25*headroom)
}

// specialistScore is the fraction of needed specialists on the duty roster,
// floored at the partial-credit value. An empty roster scores neutral.
func (e *Engine) specialistScore(f model.Facility, req Requirement, b *Breakdown) float64 {
	if len(req.Specialists) == 0 {
		return neutralScore
	}
	if len(f.DoctorsOnDuty) == 0 {
		b.Unverified = append(b.Unverified, "specialist")
		return neutralScore
	}
	matched := 0
	for _, name := range req.Specialists {
		if f.HasSpecialist(name) {
			matched++
		}
	}
	score := float64(matched) / float64(len(req.Specialists))
	if score < specialistFloor {
		return specialistFloor
	}
	return score
}

// predictionScore estimates the bed score at arrival time. Higher-load
// facilities fill faster; the ETA here derives from the distance estimate,
// not real routing.
func predictionScore(bedScore float64, f model.Facility, etaMinutes float64) float64 {
	load := f.LoadPercentage
	if load < 0 {
		load = 50
	}
	fillRate := clamp01(load/100) * fillRatePerLoad
	return math.Max(0, bedScore-fillRate*(etaMinutes/60))
}

func (e *Engine) historyScore(f model.Facility, b *Breakdown) float64 {
	if f.HistoricalSuccessRate < 0 {
		b.Unverified = append(b.Unverified, "history")
		return neutralScore
	}
	return clamp01(f.HistoricalSuccessRate)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
