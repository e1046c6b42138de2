package pricing

import "math"

const (
	ReceiptBaseFare = 800.0
	ReceiptPerKm    = 500.0
	NightSurcharge  = 200.0
)

type Receipt struct {
	DistanceKm  float64 `json:"distance_km"`
	BaseFare    float64 `json:"base_fare"`
	DistanceFee float64 `json:"distance_fee"`
	Surcharge   float64 `json:"surcharge"`
	Total       float64 `json:"total"`
}

// ComputeReceipt is a pure function of the recorded distance and the night flag.
func ComputeReceipt(distanceKm float64, night bool) Receipt {
	if distanceKm < 0 {
		distanceKm = 0
	}
	r := Receipt{
		DistanceKm:  distanceKm,
		BaseFare:    ReceiptBaseFare,
		DistanceFee: math.Round(distanceKm * ReceiptPerKm),
	}
	if night {
		r.Surcharge = NightSurcharge
	}
	r.Total = r.BaseFare + r.DistanceFee + r.Surcharge
	return r
}
