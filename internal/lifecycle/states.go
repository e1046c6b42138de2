package lifecycle

import (
	"errors"
	"time"

	"github.com/example/rider-client/internal/models"
)

type State string

const (
	StateIdle               State = "idle"
	StateQuoting            State = "quoting"
	StateAwaitingCreation   State = "awaiting_creation"
	StateAwaitingAssignment State = "awaiting_assignment"
	StateTracking           State = "tracking"
	StateCompleted          State = "completed"
	StateCancelled          State = "cancelled"
	StateFailed             State = "failed"
)

// AllowedTransitions represents the ride flow diagram as code.
var AllowedTransitions = map[State][]State{
	StateIdle:               {StateQuoting},
	StateQuoting:            {StateAwaitingCreation, StateIdle},
	StateAwaitingCreation:   {StateAwaitingAssignment, StateFailed, StateCancelled},
	StateAwaitingAssignment: {StateTracking, StateFailed, StateCancelled},
	StateTracking:           {StateCompleted, StateCancelled},
	StateCompleted:          {StateIdle},
	StateCancelled:          {StateIdle},
	StateFailed:             {StateIdle},
}

func CanTransition(from, to State) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Active reports whether a ride is in flight and holds background work.
func (s State) Active() bool {
	return s == StateAwaitingCreation || s == StateAwaitingAssignment || s == StateTracking
}

var (
	ErrInvalidState    = errors.New("invalid ride state")
	ErrNoRoute         = errors.New("origin and destination must both be set")
	ErrNoActiveRide    = errors.New("no active ride")
	ErrPaymentNotReady = errors.New("payment method not ready")
	ErrCancelled       = errors.New("ride cancelled")
	ErrQuoteSuperseded = errors.New("quote superseded")
	ErrClosed          = errors.New("ride machine closed")
)

// Shown to the rider when no driver could be found.
const noDriverMessage = "Impossible de trouver un chauffeur. Veuillez réessayer."

type Transition struct {
	RideID string    `json:"ride_id,omitempty"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is what the UI renders from. It shares no memory with the machine.
type Snapshot struct {
	State    State                  `json:"state"`
	Service  models.ServiceType     `json:"service_type"`
	Quote    *models.PriceQuote     `json:"quote,omitempty"`
	Ride     *models.Ride           `json:"ride,omitempty"`
	Position *models.DriverPosition `json:"driver_position,omitempty"`
	Trail    []models.Coord         `json:"trail,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
