// Package pricing computes on-device fares: the fallback quote used when the
// backend estimate is unavailable, and the post-ride receipt.
package pricing

import (
	"math"

	"github.com/example/rider-client/internal/eta"
	"github.com/example/rider-client/internal/geo"
	"github.com/example/rider-client/internal/models"
)

const (
	BaseFare           = 500.0 // FCFA
	OverlapSurcharge   = 100.0
	DefaultPerKmRate   = 400.0
	overlapZoneAtLeast = 2
)

var perKmRate = map[models.ServiceType]float64{
	models.ServiceDeplacement: 400,
	models.ServiceCourse:      360, // 0.9 x deplacement
	models.ServiceLivraison:   460, // 1.15 x deplacement
}

// PerKmRate returns the distance rate for a service type.
func PerKmRate(t models.ServiceType) float64 {
	if r, ok := perKmRate[t]; ok {
		return r
	}
	return DefaultPerKmRate
}

// Zones counts the embarkation zones covering a coordinate.
type Zones interface {
	Overlapping(c models.Coord) int
}

// LocalQuote is the deterministic fallback fare:
// base + perKm(service) x great-circle km, plus a surcharge when the origin
// lies inside two or more embarkation zones. Price is rounded to whole FCFA.
func LocalQuote(origin, destination models.Coord, service models.ServiceType, zones Zones) models.PriceQuote {
	km := geo.DistanceKm(origin, destination)
	price := BaseFare + PerKmRate(service)*km
	if zones != nil && zones.Overlapping(origin) >= overlapZoneAtLeast {
		price += OverlapSurcharge
	}
	return models.PriceQuote{
		Price:           math.Round(price),
		DistanceMeters:  math.Round(km * 1000),
		DurationSeconds: math.Round(eta.EstimateSeconds(origin, destination, eta.UrbanSpeedKmh)),
		Local:           true,
	}
}
