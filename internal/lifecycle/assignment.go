package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/api"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/observability"
	"github.com/example/rider-client/internal/realtime"
)

const (
	sourcePush = iota
	sourcePoll
)

var sourceNames = [...]string{sourcePush: "push", sourcePoll: "poll"}

type assignment struct {
	driver *models.Driver
}

// awaitAssignment races the realtime channel against the long-poll. Exactly
// one of them moves the ride out of AwaitingAssignment.
func (m *Machine) awaitAssignment(run *rideRun, rideID string) func(context.Context) {
	return func(ctx context.Context) {
		a, source, err := firstOf(ctx, m.pushAssignment(rideID), m.pollAssignment(rideID))

		m.mu.Lock()
		if m.run != run || m.state != StateAwaitingAssignment {
			m.mu.Unlock()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				m.mu.Unlock()
				return
			}
			m.logger.Warn("assignment failed", zap.String("ride_id", rideID), zap.Error(err))
			m.failLocked(err, noDriverMessage)
			m.mu.Unlock()
			run.stop(false)
			m.settle(ctx, StateFailed, 0)
			return
		}

		observability.AssignmentSourceTotal.WithLabelValues(sourceNames[source]).Inc()
		m.ride.Status = models.RideAccepted
		m.ride.UpdatedAt = time.Now()
		if a.driver != nil {
			d := *a.driver
			m.ride.Driver = &d
		}
		m.resetPositionLocked()
		_ = m.transitionLocked(StateTracking, "driver assigned via "+sourceNames[source])
		m.spawn(run, m.pollDriverLocation(run, rideID))
		m.spawn(run, m.pollRideStatus(run, rideID))
		m.spawn(run, m.followDriver(run, rideID))
		m.mu.Unlock()
	}
}

// pushAssignment waits for ride.accepted on the rider channel. Without a
// subscription it simply waits to lose the race.
func (m *Machine) pushAssignment(rideID string) func(context.Context) (assignment, error) {
	return func(ctx context.Context) (assignment, error) {
		got := make(chan assignment, 1)
		sub := m.rt.SubscribeRider(ctx, m.cfg.RiderID, realtime.Handlers{
			realtime.EventRideAccepted: func(ev realtime.Event) {
				var p acceptedPayload
				if err := json.Unmarshal(ev.Data, &p); err != nil {
					m.logger.Debug("ride.accepted payload malformed", zap.Error(err))
					return
				}
				if id := p.rideID(); id != "" && !sameID(id, rideID) {
					return
				}
				select {
				case got <- assignment{driver: p.Driver}:
				default:
				}
			},
		})
		defer sub.Unsubscribe()

		select {
		case a := <-got:
			return a, nil
		case <-ctx.Done():
			return assignment{}, ctx.Err()
		}
	}
}

// pollAssignment re-issues the long-poll after every timeout. Requests never
// overlap. Any answer other than 200 or 204 ends the loop with an error;
// transport failures are retried after a pause.
func (m *Machine) pollAssignment(rideID string) func(context.Context) (assignment, error) {
	return func(ctx context.Context) (assignment, error) {
		for {
			res, err := m.backend.WaitForAssignment(ctx, rideID, m.cfg.AssignWaitTimeout)
			if ctx.Err() != nil {
				return assignment{}, ctx.Err()
			}
			if err == nil {
				if res.Result == api.Assigned {
					return assignment{driver: res.Driver}, nil
				}
				m.logger.Debug("assignment wait timed out, polling again", zap.String("ride_id", rideID))
				continue
			}
			var ae *api.AssignmentError
			if errors.As(err, &ae) || errors.Is(err, api.ErrNoToken) {
				return assignment{}, err
			}
			m.logger.Warn("assignment wait interrupted, retrying", zap.String("ride_id", rideID), zap.Error(err))
			t := time.NewTimer(m.cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return assignment{}, ctx.Err()
			case <-t.C:
			}
		}
	}
}
