package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is replaced wholesale, never mutated in place.
type Place struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lon: p.Lon} }

type ServiceType string

const (
	ServiceDeplacement ServiceType = "deplacement"
	ServiceCourse      ServiceType = "course"
	ServiceLivraison   ServiceType = "livraison"
)

func (s ServiceType) Valid() bool {
	switch s {
	case ServiceDeplacement, ServiceCourse, ServiceLivraison:
		return true
	}
	return false
}

type PriceQuote struct {
	Price           float64 `json:"price"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	Local           bool    `json:"local"` // computed on device, backend estimate unavailable
}

type RideStatus string

const (
	RideDraft     RideStatus = "draft"
	RideRequested RideStatus = "requested"
	RideAccepted  RideStatus = "accepted"
	RideOngoing   RideStatus = "ongoing"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

type Driver struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Ride struct {
	ID              string        `json:"id,omitempty"`
	Pickup          Place         `json:"pickup"`
	Dropoff         Place         `json:"dropoff"`
	DistanceMeters  float64       `json:"distance_m"`
	DurationSeconds float64       `json:"duration_s"`
	Price           float64       `json:"price"`
	PaymentMethod   PaymentMethod `json:"payment_method"`
	ServiceType     ServiceType   `json:"service_type"`
	Status          RideStatus    `json:"status"`
	Driver          *Driver       `json:"driver,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// DriverPosition is superseded by every newer sample.
type DriverPosition struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	ETAMinutes *int      `json:"eta_minutes,omitempty"`
	At         time.Time `json:"at"`
	Pushed     bool      `json:"pushed"` // true when delivered by the realtime channel
}

type PaymentMethod string

const (
	PayCash        PaymentMethod = "cash"
	PayMobileMoney PaymentMethod = "mobile_money"
	PayCard        PaymentMethod = "card"
	PayWallet      PaymentMethod = "wallet"
	PayQR          PaymentMethod = "qr"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayMobileMoney, PayCard, PayWallet, PayQR:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentIdle       PaymentStatus = "idle"
	PaymentProcessing PaymentStatus = "processing"
	PaymentReady      PaymentStatus = "ready"
	PaymentFailed     PaymentStatus = "failed"
)

type PaymentSelection struct {
	Method            PaymentMethod `json:"method"`
	WalletBalanceFcfa float64       `json:"wallet_balance_fcfa"`
	Status            PaymentStatus `json:"status"`
}

type Wallet struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type SavedAddress struct {
	ID      string  `json:"id"`
	Label   string  `json:"label"`
	Address string  `json:"full_address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lng"`
}

type Rating struct {
	RideID  string `json:"ride_id"`
	Stars   int    `json:"stars"`
	Comment string `json:"comment,omitempty"`
}
