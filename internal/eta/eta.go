package eta

import (
	"math"

	"github.com/example/rider-client/internal/geo"
	"github.com/example/rider-client/internal/models"
)

// UrbanSpeedKmh is the assumed average driving speed in town.
const UrbanSpeedKmh = 25.0

// EstimateSeconds is a naive travel time: distance / speed.
func EstimateSeconds(from, to models.Coord, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = UrbanSpeedKmh
	}
	km := geo.DistanceKm(from, to)
	return km / speedKmh * 3600
}

// Minutes returns the driver-to-pickup ETA rounded up to whole minutes, never below 1.
func Minutes(driver, pickup models.Coord) int {
	m := int(math.Ceil(EstimateSeconds(driver, pickup, UrbanSpeedKmh) / 60))
	if m < 1 {
		return 1
	}
	return m
}
