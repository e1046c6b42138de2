// Package suggest orders address suggestions for the place pickers.
package suggest

import (
	"sort"

	"github.com/example/rider-client/internal/eta"
	"github.com/example/rider-client/internal/models"
)

// PositionPenaltySeconds weighs the backend's relevance order against travel
// time from the origin: each step down the backend list costs as much as one
// extra minute of driving.
const PositionPenaltySeconds = 60.0

type Ranker struct {
	SpeedKmh float64
	TopN     int
}

// Rank reorders candidates by cost = eta(from, place) + penalty x backend
// position and keeps the TopN cheapest. Without an origin the backend order is
// kept.
func (r Ranker) Rank(from *models.Coord, candidates []models.Place) []models.Place {
	n := r.TopN
	if n <= 0 || n > len(candidates) {
		n = len(candidates)
	}
	if from == nil {
		out := make([]models.Place, n)
		copy(out, candidates[:n])
		return out
	}
	speed := r.SpeedKmh
	if speed <= 0 {
		speed = eta.UrbanSpeedKmh
	}

	type scored struct {
		p    models.Place
		cost float64
	}
	list := make([]scored, 0, len(candidates))
	for i, p := range candidates {
		cost := eta.EstimateSeconds(*from, p.Coord(), speed) + PositionPenaltySeconds*float64(i)
		list = append(list, scored{p, cost})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].cost < list[j].cost })

	out := make([]models.Place, 0, n)
	for _, s := range list[:n] {
		out = append(out, s.p)
	}
	return out
}
