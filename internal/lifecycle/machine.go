// Package lifecycle drives one ride from quote to receipt.
//
// The Machine moves through Idle, Quoting, AwaitingCreation,
// AwaitingAssignment and Tracking to a terminal state. While a ride is in
// flight its background work (assignment race, position and status polls,
// realtime channels) belongs to a single run; leaving the active states
// cancels the run, and Cancel additionally waits until every worker of the run
// has returned.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/api"
	"github.com/example/rider-client/internal/geo"
	"github.com/example/rider-client/internal/geolocation"
	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/observability"
	"github.com/example/rider-client/internal/pricing"
	"github.com/example/rider-client/internal/realtime"
	"github.com/example/rider-client/internal/state"
	"github.com/example/rider-client/internal/telemetry"
)

// Backend is the slice of the remote API the ride flow needs.
type Backend interface {
	EstimateRoute(ctx context.Context, pickup, dropoff models.Coord) *models.PriceQuote
	CreateRide(ctx context.Context, t api.CreateTrip) (string, error)
	GetRide(ctx context.Context, id string) *models.Ride
	GetDriverLocation(ctx context.Context, id string) *models.DriverPosition
	WaitForAssignment(ctx context.Context, id string, timeout time.Duration) (api.Assignment, error)
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, bool)
	RateDriver(ctx context.Context, r models.Rating) error
}

type Realtime interface {
	SubscribeRider(ctx context.Context, riderID string, h realtime.Handlers) *realtime.Subscription
	SubscribeRide(ctx context.Context, rideID string, h realtime.Handlers) *realtime.Subscription
}

type Locator interface {
	RequestCurrentPosition(ctx context.Context) (models.Coord, error)
}

// Settler captures or releases the card hold placed when the ride was confirmed.
type Settler interface {
	Capture(ctx context.Context, holdID string) error
	Cancel(ctx context.Context, holdID string) error
}

type Config struct {
	RiderID              string
	AssignWaitTimeout    time.Duration
	LocationPollInterval time.Duration
	StatusPollInterval   time.Duration
	// RetryBackoff spaces wait-assignment retries after transport errors.
	RetryBackoff time.Duration
	TrailLimit   int
}

func (c *Config) applyDefaults() {
	if c.AssignWaitTimeout <= 0 {
		c.AssignWaitTimeout = 25 * time.Second
	}
	if c.LocationPollInterval <= 0 {
		c.LocationPollInterval = 5 * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 10 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.TrailLimit <= 0 {
		c.TrailLimit = 20
	}
}

// Deps are the collaborators of a Machine. Backend is required; every other
// field falls back to an inert implementation.
type Deps struct {
	Backend   Backend
	Realtime  Realtime
	Locator   Locator
	Places    *state.LocationStore
	Payment   *state.PaymentStore
	Settler   Settler
	Publisher telemetry.Publisher
	Zones     pricing.Zones
	Logger    *zap.Logger
}

const maxHistory = 200

type Machine struct {
	cfg       Config
	backend   Backend
	rt        Realtime
	locator   Locator
	places    *state.LocationStore
	payment   *state.PaymentStore
	settler   Settler
	publisher telemetry.Publisher
	zones     pricing.Zones
	logger    *zap.Logger

	mu        sync.Mutex
	state     State
	service   models.ServiceType
	quote     *models.PriceQuote
	quoteFrom models.Place
	quoteTo   models.Place
	quoteSeq  uint64
	ride      *models.Ride
	position  *models.DriverPosition
	trail     []models.Coord
	posSeen   time.Time // local receipt time of position
	pushedAt  time.Time // server stamp of the newest push
	failure   error
	failMsg   string
	history   []Transition
	run       *rideRun
	watchers  map[uint64]chan Snapshot
	watchSeq  uint64
	closed    bool

	clock   func() time.Time
	workers atomic.Int64
	outbox  chan Transition
	drained chan struct{}
}

func New(d Deps, cfg Config) *Machine {
	cfg.applyDefaults()
	logger := logging.OrNop(d.Logger)
	m := &Machine{
		cfg:       cfg,
		backend:   d.Backend,
		rt:        d.Realtime,
		locator:   d.Locator,
		places:    d.Places,
		payment:   d.Payment,
		settler:   d.Settler,
		publisher: d.Publisher,
		zones:     d.Zones,
		logger:    logger,
		state:     StateIdle,
		service:   models.ServiceDeplacement,
		watchers:  make(map[uint64]chan Snapshot),
		outbox:    make(chan Transition, 128),
		drained:   make(chan struct{}),
		clock:     time.Now,
	}
	if m.rt == nil {
		m.rt = realtime.NewClient(nil, logger)
	}
	if m.locator == nil {
		m.locator = geolocation.NewAdapter(nil, logger)
	}
	if m.places == nil {
		m.places = state.NewLocationStore(context.Background(), nil, logger)
	}
	if m.payment == nil {
		m.payment = state.NewPaymentStore(context.Background(), nil, nil, logger)
	}
	if m.publisher == nil {
		m.publisher = telemetry.NopPublisher{}
	}
	if m.zones == nil {
		m.zones = geo.Embarkation
	}
	go m.drainTelemetry()
	return m
}

// rideRun owns the background work of one ride.
type rideRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *rideRun) stop(wait bool) {
	r.cancel()
	if wait {
		r.wg.Wait()
	}
}

func (m *Machine) spawn(run *rideRun, fn func(ctx context.Context)) {
	run.wg.Add(1)
	m.workers.Add(1)
	go func() {
		defer func() {
			m.workers.Add(-1)
			run.wg.Done()
		}()
		fn(run.ctx)
	}()
}

func (m *Machine) detachRunLocked() *rideRun {
	run := m.run
	m.run = nil
	return run
}

func (m *Machine) Places() *state.LocationStore { return m.places }
func (m *Machine) Payment() *state.PaymentStore { return m.payment }

// ActiveWorkers counts background goroutines of the current and recently
// stopped runs.
func (m *Machine) ActiveWorkers() int { return int(m.workers.Load()) }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err is the hard failure that moved the machine to Failed, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.history...)
}

// Watch streams snapshots after every change. Slow readers only see the most
// recent snapshot. The returned func stops the stream.
func (m *Machine) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.watchSeq++
	id := m.watchSeq
	m.watchers[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(c)
			}
		})
	}
}

// SetServiceType changes the tariff and drops the current quote.
func (m *Machine) SetServiceType(t models.ServiceType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown service type %q", t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle && m.state != StateQuoting {
		return fmt.Errorf("%w: cannot change service while %s", ErrInvalidState, m.state)
	}
	m.service = t
	m.invalidateQuoteLocked()
	m.notifyLocked()
	return nil
}

// InvalidateQuote drops the quote after origin or destination changed.
func (m *Machine) InvalidateQuote() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateIdle || m.state == StateQuoting {
		m.invalidateQuoteLocked()
		m.notifyLocked()
	}
}

func (m *Machine) invalidateQuoteLocked() {
	m.quote = nil
	m.quoteSeq++
}

// Quote prices the selected route. The backend estimate is preferred; when it
// is unavailable the deterministic local fare is used.
func (m *Machine) Quote(ctx context.Context) (models.PriceQuote, error) {
	origin, dest, ok := m.places.Route()
	if !ok {
		return models.PriceQuote{}, ErrNoRoute
	}

	m.mu.Lock()
	switch m.state {
	case StateIdle:
		if err := m.transitionLocked(StateQuoting, "route selected"); err != nil {
			m.mu.Unlock()
			return models.PriceQuote{}, err
		}
	case StateQuoting:
	default:
		s := m.state
		m.mu.Unlock()
		return models.PriceQuote{}, fmt.Errorf("%w: cannot quote while %s", ErrInvalidState, s)
	}
	service := m.service
	m.invalidateQuoteLocked()
	seq := m.quoteSeq
	m.mu.Unlock()

	q := m.backend.EstimateRoute(ctx, origin.Coord(), dest.Coord())
	if q == nil {
		local := pricing.LocalQuote(origin.Coord(), dest.Coord(), service, m.zones)
		q = &local
		m.logger.Debug("backend estimate unavailable, priced locally", zap.Float64("price", q.Price))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateQuoting || m.quoteSeq != seq {
		return *q, ErrQuoteSuperseded
	}
	m.quote = q
	m.quoteFrom, m.quoteTo = origin, dest
	m.notifyLocked()
	return *q, nil
}

// Confirm creates the quoted ride and starts waiting for a driver. It returns
// once the backend has assigned an id; assignment continues in the
// background. A creation failure moves the machine to Failed and is returned
// as is, so a *api.CreateError carries the backend message.
func (m *Machine) Confirm(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateQuoting || m.quote == nil {
		s := m.state
		m.mu.Unlock()
		return "", fmt.Errorf("%w: nothing to confirm while %s", ErrInvalidState, s)
	}
	q := *m.quote
	m.mu.Unlock()

	st, err := m.payment.Prepare(ctx, q.Price)
	if st != models.PaymentReady {
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrPaymentNotReady, err)
		}
		return "", ErrPaymentNotReady
	}
	method := m.payment.Selection().Method
	hold := m.payment.HoldID()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.releaseHold(ctx, hold)
		return "", ErrClosed
	}
	if m.state != StateQuoting || m.quote == nil || *m.quote != q {
		m.mu.Unlock()
		m.releaseHold(ctx, hold)
		return "", ErrQuoteSuperseded
	}
	now := time.Now()
	runCtx, cancel := context.WithCancel(context.Background())
	run := &rideRun{ctx: runCtx, cancel: cancel}
	m.run = run
	m.ride = &models.Ride{
		Pickup:          m.quoteFrom,
		Dropoff:         m.quoteTo,
		DistanceMeters:  q.DistanceMeters,
		DurationSeconds: q.DurationSeconds,
		Price:           q.Price,
		PaymentMethod:   method,
		ServiceType:     m.service,
		Status:          models.RideDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	trip := api.CreateTrip{
		Pickup:          m.quoteFrom,
		Dropoff:         m.quoteTo,
		DistanceMeters:  q.DistanceMeters,
		DurationSeconds: q.DurationSeconds,
		Price:           q.Price,
	}
	_ = m.transitionLocked(StateAwaitingCreation, "rider confirmed")
	m.mu.Unlock()

	// Only Cancel may abort creation, not the caller's context.
	id, err := m.backend.CreateRide(run.ctx, trip)

	m.mu.Lock()
	if m.run != run {
		m.mu.Unlock()
		if err == nil {
			m.logger.Warn("ride created after local cancellation", zap.String("ride_id", id))
		}
		return "", ErrCancelled
	}
	if err != nil {
		msg := err.Error()
		var ce *api.CreateError
		if errors.As(err, &ce) {
			msg = ce.Message
		}
		m.failLocked(err, msg)
		m.mu.Unlock()
		run.stop(false)
		m.settle(ctx, StateFailed, 0)
		return "", err
	}
	m.ride.ID = id
	m.ride.Status = models.RideRequested
	m.ride.UpdatedAt = time.Now()
	_ = m.transitionLocked(StateAwaitingAssignment, "ride created")
	m.spawn(run, m.awaitAssignment(run, id))
	m.mu.Unlock()
	return id, nil
}

// Cancel abandons the active ride. It returns after the long-poll has been
// aborted, every realtime subscription released and every worker stopped.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Active() {
		m.mu.Unlock()
		return ErrNoActiveRide
	}
	if m.ride != nil {
		m.ride.Status = models.RideCancelled
		m.ride.UpdatedAt = time.Now()
	}
	_ = m.transitionLocked(StateCancelled, "rider cancelled")
	run := m.detachRunLocked()
	m.mu.Unlock()

	if run != nil {
		run.stop(true)
	}
	m.settle(ctx, StateCancelled, 0)
	return nil
}

// Acknowledge discards a finished ride, or an unconfirmed quote, and returns
// to Idle.
func (m *Machine) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() && m.state != StateQuoting {
		return fmt.Errorf("%w: nothing to acknowledge while %s", ErrInvalidState, m.state)
	}
	m.ride = nil
	m.resetPositionLocked()
	m.failure = nil
	m.failMsg = ""
	m.invalidateQuoteLocked()
	return m.transitionLocked(StateIdle, "acknowledged")
}

// UseCurrentLocation sets the origin to the device position. The address is
// reverse geocoded, or the raw coordinates when that fails. Permission and
// availability errors are returned untouched for the rider to act on.
func (m *Machine) UseCurrentLocation(ctx context.Context) (models.Place, error) {
	c, err := m.locator.RequestCurrentPosition(ctx)
	if err != nil {
		return models.Place{}, err
	}
	addr, ok := m.backend.ReverseGeocode(ctx, c.Lat, c.Lon)
	if !ok {
		addr = fmt.Sprintf("%.5f, %.5f", c.Lat, c.Lon)
	}
	p := models.Place{Address: addr, Lat: c.Lat, Lon: c.Lon}
	m.places.SetOrigin(&p)
	m.InvalidateQuote()
	return p, nil
}

// Rate sends the rider's rating of the completed ride.
func (m *Machine) Rate(ctx context.Context, stars int, comment string) error {
	m.mu.Lock()
	if m.state != StateCompleted || m.ride == nil {
		s := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: only a completed ride can be rated, state is %s", ErrInvalidState, s)
	}
	id := m.ride.ID
	m.mu.Unlock()
	return m.backend.RateDriver(ctx, models.Rating{RideID: id, Stars: stars, Comment: comment})
}

// Receipt breaks down the fare of the completed ride.
func (m *Machine) Receipt(night bool) (pricing.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCompleted || m.ride == nil {
		return pricing.Receipt{}, fmt.Errorf("%w: no completed ride", ErrInvalidState)
	}
	return pricing.ComputeReceipt(m.ride.DistanceMeters/1000, night), nil
}

// Close stops background work and the telemetry outbox. The machine rejects
// new rides afterwards.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	run := m.detachRunLocked()
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
	close(m.outbox)
	m.mu.Unlock()

	if run != nil {
		run.stop(true)
	}
	<-m.drained
	return nil
}

func (m *Machine) resetPositionLocked() {
	m.position = nil
	m.trail = nil
	m.posSeen = time.Time{}
	m.pushedAt = time.Time{}
}

func (m *Machine) failLocked(err error, msg string) {
	m.failure = err
	m.failMsg = msg
	_ = m.transitionLocked(StateFailed, msg)
	m.detachRunLocked()
}

func (m *Machine) transitionLocked(to State, reason string) error {
	from := m.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	m.state = to
	t := Transition{From: from, To: to, Reason: reason, At: time.Now()}
	if m.ride != nil {
		t.RideID = m.ride.ID
	}
	m.history = append(m.history, t)
	if len(m.history) > maxHistory {
		m.history = append([]Transition(nil), m.history[len(m.history)-maxHistory:]...)
	}
	observability.RideTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Info("ride transition",
		zap.String("ride_id", t.RideID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if !m.closed {
		select {
		case m.outbox <- t:
		default:
			m.logger.Warn("telemetry outbox full, transition dropped", zap.String("to", string(to)))
		}
	}
	m.notifyLocked()
	return nil
}

func (m *Machine) notifyLocked() {
	if len(m.watchers) == 0 {
		return
	}
	s := m.snapshotLocked()
	for _, ch := range m.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, Service: m.service, Error: m.failMsg}
	if m.quote != nil {
		q := *m.quote
		s.Quote = &q
	}
	if m.ride != nil {
		r := *m.ride
		if r.Driver != nil {
			d := *r.Driver
			r.Driver = &d
		}
		s.Ride = &r
	}
	if m.position != nil {
		p := *m.position
		if p.ETAMinutes != nil {
			e := *p.ETAMinutes
			p.ETAMinutes = &e
		}
		s.Position = &p
	}
	if len(m.trail) > 0 {
		s.Trail = append([]models.Coord(nil), m.trail...)
	}
	return s
}

func (m *Machine) drainTelemetry() {
	defer close(m.drained)
	for t := range m.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.publisher.PublishTransition(ctx, telemetry.Transition{
			RideID: t.RideID,
			From:   string(t.From),
			To:     string(t.To),
			Reason: t.Reason,
			At:     t.At,
		})
		cancel()
		if err != nil {
			m.logger.Warn("transition publish failed", zap.String("to", string(t.To)), zap.Error(err))
		}
	}
}

// settle moves money once a ride has ended. Completion debits the wallet and
// captures the card hold; any other outcome releases the hold.
func (m *Machine) settle(ctx context.Context, outcome State, price float64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if outcome == StateCompleted && !m.payment.Debit(ctx, price) {
		m.logger.Warn("wallet debit refused", zap.Float64("amount", price))
	}
	hold := m.payment.TakeHold()
	if m.settler == nil || hold == "" {
		return
	}
	var err error
	if outcome == StateCompleted {
		err = m.settler.Capture(ctx, hold)
	} else {
		err = m.settler.Cancel(ctx, hold)
	}
	if err != nil {
		m.logger.Warn("card hold settlement failed", zap.String("hold_id", hold), zap.Error(err))
	}
}

// releaseHold cancels a hold placed for a confirmation that never became a
// ride, unless something else has taken it since.
func (m *Machine) releaseHold(ctx context.Context, hold string) {
	if m.settler == nil || !m.payment.DropHold(hold) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := m.settler.Cancel(ctx, hold); err != nil {
		m.logger.Warn("card hold release failed", zap.String("hold_id", hold), zap.Error(err))
	}
}
