// Package ranking queries facilities around a request, scores each candidate
// and produces the best/backup choice plus a bounded display list.
package ranking

import (
	"context"
	"errors"
	"sort"

	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/repository"
	"github.com/rescuegrid/rescuegrid/core/scoring"
)

// ErrNoFacilityAvailable is returned when no facility lies within the search
// radius. The caller decides whether to widen the radius; ranking never
// silently returns an empty best.
var ErrNoFacilityAvailable = errors.New("ranking: no facility within search radius")

// Candidate pairs a facility with its score breakdown.
type Candidate struct {
	Facility  model.Facility
	Breakdown scoring.Breakdown
}

// Result is the outcome of one ranking run. Others is bounded to
// maxOthers entries.
type Result struct {
	Best   Candidate
	Backup *Candidate
	Others []Candidate
}

// maxOthers bounds the trailing display list after best and backup.
const maxOthers = 5

// Ranker scores and orders facilities for a request.
type Ranker struct {
	repo   repository.Repository
	engine *scoring.Engine
}

// NewRanker creates a Ranker.
func NewRanker(repo repository.Repository, engine *scoring.Engine) *Ranker {
	return &Ranker{repo: repo, engine: engine}
}

// Rank scores every facility within radiusKm of the request position.
// Ordering is deterministic: descending composite score, ties broken by
// ascending distance and then facility id.
func (r *Ranker) Rank(ctx context.Context, req model.Request, radiusKm float64) (Result, error) {
	facilities, err := r.repo.FacilitiesNear(ctx, req.Position, radiusKm)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]Candidate, 0, len(facilities))
	for _, f := range facilities {
		b := r.engine.Score(req, f, radiusKm)
		if b.DistanceKm > radiusKm {
			continue
		}
		candidates = append(candidates, Candidate{Facility: f, Breakdown: b})
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoFacilityAvailable
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Breakdown.Total != b.Breakdown.Total {
			return a.Breakdown.Total > b.Breakdown.Total
		}
		if a.Breakdown.DistanceKm != b.Breakdown.DistanceKm {
			return a.Breakdown.DistanceKm < b.Breakdown.DistanceKm
		}
		return a.Facility.ID < b.Facility.ID
	})

	res := Result{Best: candidates[0]}
	if len(candidates) > 1 {
		res.Backup = &candidates[1]
	}
	if len(candidates) > 2 {
		rest := candidates[2:]
		if len(rest) > maxOthers {
			rest = rest[:maxOthers]
		}
		res.Others = rest
	}
	return res, nil
}
