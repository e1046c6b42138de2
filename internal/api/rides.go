package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/models"
)

const (
	fallbackDistanceMeters  = 1000
	fallbackDurationSeconds = 600
)

type point struct {
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Label string  `json:"label,omitempty"`
}

type routeRequest struct {
	Pickup  point `json:"pickup"`
	Dropoff point `json:"dropoff"`
}

// EstimateRoute asks the backend to price a route. It returns nil when no
// price could be obtained; the caller then prices locally.
func (c *Client) EstimateRoute(ctx context.Context, pickup, dropoff models.Coord) *models.PriceQuote {
	if q, ok := c.estimates.Get(pickup, dropoff); ok {
		return &q
	}
	body := routeRequest{
		Pickup:  point{Lat: pickup.Lat, Lng: pickup.Lon},
		Dropoff: point{Lat: dropoff.Lat, Lng: dropoff.Lon},
	}
	var out struct {
		Price    *number `json:"price"`
		Distance *number `json:"distance_m"`
		ETA      *number `json:"eta_s"`
		Duration *number `json:"duration_s"`
	}
	if !c.getJSON(ctx, call{op: "estimate", method: http.MethodPost, path: "/routing/estimate", body: body, public: true}, &out) {
		return nil
	}
	price, ok := out.Price.value()
	if !ok || price < 0 {
		return nil
	}
	q := &models.PriceQuote{Price: price}
	q.DistanceMeters, _ = out.Distance.value()
	if d, ok := out.ETA.value(); ok {
		q.DurationSeconds = d
	} else {
		q.DurationSeconds, _ = out.Duration.value()
	}
	c.estimates.Set(pickup, dropoff, *q)
	return q
}

// CreateTrip is the payload of CreateRide.
type CreateTrip struct {
	Pickup          models.Place
	Dropoff         models.Place
	DistanceMeters  float64
	DurationSeconds float64
	Price           float64
}

// CreateRide registers the trip and returns its id. Every failure is returned
// as a *CreateError whose Message can be shown to the rider as is.
func (c *Client) CreateRide(ctx context.Context, t CreateTrip) (string, error) {
	if t.DistanceMeters <= 0 {
		t.DistanceMeters = fallbackDistanceMeters
	}
	if t.DurationSeconds <= 0 {
		t.DurationSeconds = fallbackDurationSeconds
	}
	body := struct {
		Pickup    point   `json:"pickup"`
		Dropoff   point   `json:"dropoff"`
		DistanceM float64 `json:"distance_m"`
		DurationS float64 `json:"duration_s"`
		Price     float64 `json:"price"`
	}{
		Pickup:    point{Lat: t.Pickup.Lat, Lng: t.Pickup.Lon, Label: t.Pickup.Address},
		Dropoff:   point{Lat: t.Dropoff.Lat, Lng: t.Dropoff.Lon, Label: t.Dropoff.Address},
		DistanceM: t.DistanceMeters,
		DurationS: t.DurationSeconds,
		Price:     t.Price,
	}

	status, raw, err := c.do(ctx, call{op: "create_trip", method: http.MethodPost, path: "/trips/create", body: body})
	if err != nil {
		return "", &CreateError{Message: defaultCreateMessage, Err: err}
	}
	var out struct {
		ID      ident  `json:"id"`
		Message string `json:"message"`
	}
	decodeErr := json.Unmarshal(raw, &out)
	if status >= 200 && status <= 299 && decodeErr == nil && out.ID != "" {
		return string(out.ID), nil
	}
	msg := strings.TrimSpace(out.Message)
	if msg == "" {
		msg = defaultCreateMessage
	}
	return "", &CreateError{Status: status, Message: msg, Err: ErrUnexpectedStatus}
}

type rideResponse struct {
	ID        ident          `json:"id"`
	Status    string         `json:"status"`
	Driver    *models.Driver `json:"driver"`
	Pickup    *latLng        `json:"pickup"`
	Dropoff   *latLng        `json:"dropoff"`
	Price     *number        `json:"price"`
	Distance  *number        `json:"distance_m"`
	Duration  *number        `json:"duration_s"`
	Payment   string         `json:"payment_method"`
	Service   string         `json:"service_type"`
	CreatedAt stamp          `json:"created_at"`
	UpdatedAt stamp          `json:"updated_at"`
}

func (r rideResponse) toRide() models.Ride {
	ride := models.Ride{
		ID:            string(r.ID),
		Status:        models.RideStatus(strings.ToLower(strings.TrimSpace(r.Status))),
		Driver:        r.Driver,
		PaymentMethod: models.PaymentMethod(r.Payment),
		ServiceType:   models.ServiceType(r.Service),
	}
	ride.Pickup = r.Pickup.place()
	ride.Dropoff = r.Dropoff.place()
	ride.Price, _ = r.Price.value()
	ride.DistanceMeters, _ = r.Distance.value()
	ride.DurationSeconds, _ = r.Duration.value()
	ride.CreatedAt = time.Time(r.CreatedAt)
	ride.UpdatedAt = time.Time(r.UpdatedAt)
	return ride
}

func (l *latLng) place() models.Place {
	if l == nil {
		return models.Place{}
	}
	p := models.Place{Address: l.Address}
	if p.Address == "" {
		p.Address = l.Label
	}
	p.Lat, _ = l.Lat.value()
	p.Lon, _ = l.Lng.value()
	return p
}

// GetRide returns the backend's view of a ride, or nil on any failure.
func (c *Client) GetRide(ctx context.Context, id string) *models.Ride {
	var out rideResponse
	if !c.getJSON(ctx, call{op: "get_ride", method: http.MethodGet, path: "/passenger/rides/" + url.PathEscape(id)}, &out) {
		return nil
	}
	ride := out.toRide()
	if ride.ID == "" {
		ride.ID = id
	}
	return &ride
}

// GetDriverLocation returns the assigned driver's last position, or nil when
// the answer has no usable coordinates.
func (c *Client) GetDriverLocation(ctx context.Context, id string) *models.DriverPosition {
	var out latLng
	if !c.getJSON(ctx, call{op: "driver_location", method: http.MethodGet, path: "/passenger/rides/" + url.PathEscape(id) + "/driver-location"}, &out) {
		return nil
	}
	lat, okLat := out.Lat.value()
	lng, okLng := out.Lng.value()
	if !okLat || !okLng {
		return nil
	}
	return &models.DriverPosition{Lat: lat, Lon: lng, At: time.Now()}
}

type AssignmentResult int

const (
	TimedOut AssignmentResult = iota
	Assigned
)

func (r AssignmentResult) String() string {
	if r == Assigned {
		return "assigned"
	}
	return "timed_out"
}

type Assignment struct {
	Result AssignmentResult
	Driver *models.Driver // set when the backend names the driver
}

// WaitForAssignment long-polls for up to timeout. 200 yields Assigned and 204
// TimedOut; any other status is an *AssignmentError. Transport failures and
// context cancellation are returned unwrapped.
func (c *Client) WaitForAssignment(ctx context.Context, id string, timeout time.Duration) (Assignment, error) {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(secs))
	status, raw, err := c.do(ctx, call{
		op:      "wait_assignment",
		method:  http.MethodGet,
		path:    "/passenger/rides/" + url.PathEscape(id) + "/wait-assignment",
		query:   q,
		timeout: timeout + c.timeout,
	})
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return Assignment{}, err
		}
		return Assignment{}, fmt.Errorf("wait assignment: %w", err)
	}
	switch status {
	case http.StatusOK:
		a := Assignment{Result: Assigned}
		var out struct {
			Driver *models.Driver `json:"driver"`
			Ride   *struct {
				Driver *models.Driver `json:"driver"`
			} `json:"ride"`
		}
		if len(raw) > 0 && json.Unmarshal(raw, &out) == nil {
			a.Driver = out.Driver
			if a.Driver == nil && out.Ride != nil {
				a.Driver = out.Ride.Driver
			}
		}
		return a, nil
	case http.StatusNoContent:
		return Assignment{Result: TimedOut}, nil
	default:
		c.logger.Warn("wait assignment rejected", zap.String("ride_id", id), zap.Int("status", status))
		return Assignment{}, &AssignmentError{Status: status}
	}
}
