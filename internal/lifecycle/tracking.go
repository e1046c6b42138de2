package lifecycle

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/eta"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/realtime"
)

func (m *Machine) pollDriverLocation(run *rideRun, rideID string) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(m.cfg.LocationPollInterval)
		defer ticker.Stop()
		for {
			if pos := m.backend.GetDriverLocation(ctx, rideID); pos != nil && ctx.Err() == nil {
				p := *pos
				p.Pushed = false
				if p.At.IsZero() {
					p.At = time.Now()
				}
				m.applyPosition(run, p)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

func (m *Machine) pollRideStatus(run *rideRun, rideID string) func(context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(m.cfg.StatusPollInterval)
		defer ticker.Stop()
		for {
			if ride := m.backend.GetRide(ctx, rideID); ride != nil && ctx.Err() == nil {
				if m.applyRideStatus(run, *ride) {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}

// followDriver holds the ride channel subscription for as long as the run lives.
func (m *Machine) followDriver(run *rideRun, rideID string) func(context.Context) {
	return func(ctx context.Context) {
		sub := m.rt.SubscribeRide(ctx, rideID, realtime.Handlers{
			realtime.EventDriverLocation: func(ev realtime.Event) {
				p, ok := decodePushedPosition(ev.Data)
				if !ok {
					m.logger.Debug("driver.location.updated payload unusable", zap.String("ride_id", rideID))
					return
				}
				m.applyPosition(run, p)
			},
		})
		if sub == nil {
			return
		}
		defer sub.Unsubscribe()
		<-ctx.Done()
	}
}

// applyPosition keeps the newest sample. Samples are ordered by when they
// arrived here, since pushed stamps come from the server clock; the server
// stamp only orders pushes among themselves. A polled sample does not replace
// a pushed one that arrived less than a poll interval earlier.
func (m *Machine) applyPosition(run *rideRun, p models.DriverPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != run || m.state != StateTracking {
		return
	}
	now := m.clock()
	if p.Pushed {
		if !m.pushedAt.IsZero() && p.At.Before(m.pushedAt) {
			return
		}
		m.pushedAt = p.At
	} else if cur := m.position; cur != nil && cur.Pushed && now.Sub(m.posSeen) < m.cfg.LocationPollInterval {
		return
	}
	m.posSeen = now
	if p.ETAMinutes == nil && m.ride != nil {
		mins := eta.Minutes(models.Coord{Lat: p.Lat, Lon: p.Lon}, m.ride.Pickup.Coord())
		p.ETAMinutes = &mins
	}
	m.position = &p
	m.trail = append(m.trail, models.Coord{Lat: p.Lat, Lon: p.Lon})
	if len(m.trail) > m.cfg.TrailLimit {
		m.trail = append([]models.Coord(nil), m.trail[len(m.trail)-m.cfg.TrailLimit:]...)
	}
	m.notifyLocked()
}

// applyRideStatus folds a polled ride into the tracked one and reports whether
// the ride reached a terminal status.
func (m *Machine) applyRideStatus(run *rideRun, polled models.Ride) bool {
	m.mu.Lock()
	if m.run != run || m.state != StateTracking {
		m.mu.Unlock()
		return true
	}
	raw := strings.ToLower(strings.TrimSpace(string(polled.Status)))
	if polled.Driver != nil && polled.Driver.Name != "" {
		d := *polled.Driver
		m.ride.Driver = &d
	}

	var next State
	switch raw {
	case "completed", "done", "finished":
		next = StateCompleted
		m.ride.Status = models.RideCompleted
	case "cancelled", "canceled":
		next = StateCancelled
		m.ride.Status = models.RideCancelled
	case "started", "ongoing":
		m.ride.Status = models.RideOngoing
	case "accepted", "arrived":
		m.ride.Status = models.RideAccepted
	}
	m.ride.UpdatedAt = time.Now()

	if next == "" {
		m.notifyLocked()
		m.mu.Unlock()
		return false
	}
	if polled.DistanceMeters > 0 {
		m.ride.DistanceMeters = polled.DistanceMeters
	}
	price := m.ride.Price
	_ = m.transitionLocked(next, "backend status "+raw)
	m.detachRunLocked()
	m.mu.Unlock()

	run.stop(false)
	m.settle(context.Background(), next, price)
	return true
}

type acceptedPayload struct {
	RideID      flexID         `json:"rideId"`
	RideIDSnake flexID         `json:"ride_id"`
	Driver      *models.Driver `json:"driver"`
}

func (p acceptedPayload) rideID() string {
	if p.RideID != "" {
		return string(p.RideID)
	}
	return string(p.RideIDSnake)
}

type locationPayload struct {
	Lat        *float64        `json:"lat"`
	Lng        *float64        `json:"lng"`
	ETAMinutes *float64        `json:"eta_minutes"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

func decodePushedPosition(data json.RawMessage) (models.DriverPosition, bool) {
	var p locationPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Lat == nil || p.Lng == nil {
		return models.DriverPosition{}, false
	}
	pos := models.DriverPosition{Lat: *p.Lat, Lon: *p.Lng, Pushed: true, At: parseStamp(p.Timestamp)}
	if p.ETAMinutes != nil && *p.ETAMinutes >= 0 {
		mins := max(int(math.Ceil(*p.ETAMinutes)), 1)
		pos.ETAMinutes = &mins
	}
	return pos, true
}

// parseStamp reads an RFC 3339 string or a unix time in seconds or
// milliseconds, defaulting to now.
func parseStamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now()
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		return time.Now()
	}
	var n float64
	if json.Unmarshal(raw, &n) == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(int64(n))
		}
		return time.Unix(int64(n), 0)
	}
	return time.Now()
}
