package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/rider-client/internal/api"
	"github.com/example/rider-client/internal/geo"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/realtime"
	"github.com/example/rider-client/internal/state"
	"github.com/example/rider-client/internal/telemetry"
)

type waitReply struct {
	res api.Assignment
	err error
}

type fakeBackend struct {
	mu        sync.Mutex
	estimate  *models.PriceQuote
	createID  string
	createErr error
	status    string
	location  *models.DriverPosition
	reverse   string
	ratings   []models.Rating
	created   []api.CreateTrip

	replies     chan waitReply
	waitCalls   atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{createID: "42", status: "accepted", replies: make(chan waitReply, 16)}
}

func (f *fakeBackend) EstimateRoute(context.Context, models.Coord, models.Coord) *models.PriceQuote {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.estimate == nil {
		return nil
	}
	q := *f.estimate
	return &q
}

func (f *fakeBackend) CreateRide(_ context.Context, t api.CreateTrip) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, t)
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeBackend) GetRide(_ context.Context, id string) *models.Ride {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Ride{ID: id, Status: models.RideStatus(f.status)}
}

func (f *fakeBackend) setStatus(s string) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeBackend) GetDriverLocation(context.Context, string) *models.DriverPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.location == nil {
		return nil
	}
	p := *f.location
	p.At = time.Now()
	return &p
}

// WaitForAssignment answers with the next scripted reply, or holds the request
// open until it is aborted.
func (f *fakeBackend) WaitForAssignment(ctx context.Context, _ string, _ time.Duration) (api.Assignment, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}
	f.waitCalls.Add(1)
	select {
	case r := <-f.replies:
		return r.res, r.err
	case <-ctx.Done():
		return api.Assignment{}, ctx.Err()
	}
}

func (f *fakeBackend) ReverseGeocode(context.Context, float64, float64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reverse, f.reverse != ""
}

func (f *fakeBackend) RateDriver(_ context.Context, r models.Rating) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Stars < 1 || r.Stars > 5 {
		return errors.New("bad stars")
	}
	f.ratings = append(f.ratings, r)
	return nil
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []telemetry.Transition
}

func (p *recordingPublisher) PublishTransition(_ context.Context, t telemetry.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, t)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fakeSettler struct {
	mu        sync.Mutex
	captured  []string
	cancelled []string
}

func (s *fakeSettler) Capture(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, id)
	return nil
}

func (s *fakeSettler) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, id)
	return nil
}

type holdAuthorizer struct{}

func (holdAuthorizer) Hold(context.Context, int64) (string, error) { return "pi_test", nil }

// gatedAuthorizer holds every card hold until released.
type gatedAuthorizer struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedAuthorizer() *gatedAuthorizer {
	return &gatedAuthorizer{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (a *gatedAuthorizer) Hold(context.Context, int64) (string, error) {
	a.entered <- struct{}{}
	<-a.release
	return "pi_gated", nil
}

const testRider = "r1"

var (
	testOrigin      = models.Place{Address: "Ouando", Lat: 6.370, Lon: 2.391}
	testDestination = models.Place{Address: "Dantokpa", Lat: 6.350, Lon: 2.430}
)

type harness struct {
	m       *Machine
	backend *fakeBackend
	hub     *realtime.Hub
	rt      *realtime.Client
	payment *state.PaymentStore
	pub     *recordingPublisher
	settler *fakeSettler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, holdAuthorizer{})
}

func newHarnessWith(t *testing.T, auth state.Authorizer) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		backend: newFakeBackend(),
		hub:     realtime.NewHub(),
		pub:     &recordingPublisher{},
		settler: &fakeSettler{},
	}
	h.rt = realtime.NewClient(h.hub, nil)
	h.payment = state.NewPaymentStore(ctx, nil, auth, nil)
	places := state.NewLocationStore(ctx, nil, nil)
	places.SetOrigin(&testOrigin)
	places.SetDestination(&testDestination)

	h.m = New(Deps{
		Backend:   h.backend,
		Realtime:  h.rt,
		Places:    places,
		Payment:   h.payment,
		Settler:   h.settler,
		Publisher: h.pub,
		Zones:     geo.Catalog{},
	}, Config{
		RiderID:              testRider,
		AssignWaitTimeout:    time.Second,
		LocationPollInterval: 20 * time.Millisecond,
		StatusPollInterval:   20 * time.Millisecond,
		RetryBackoff:         10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = h.m.Close() })
	return h
}

// confirm quotes and confirms, leaving the machine in AwaitingAssignment with
// the rider channel joined.
func (h *harness) confirm(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	if _, err := h.m.Quote(ctx); err != nil {
		t.Fatalf("quote: %v", err)
	}
	id, err := h.m.Confirm(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got := h.m.State(); got != StateAwaitingAssignment {
		t.Fatalf("state = %s, want %s", got, StateAwaitingAssignment)
	}
	eventually(t, "rider channel joined", func() bool {
		return h.hub.Subscribers(realtime.RiderChannel(testRider)) == 1
	})
	eventually(t, "long-poll issued", func() bool { return h.backend.inflight.Load() == 1 })
	return id
}

func (h *harness) track(t *testing.T) string {
	t.Helper()
	id := h.confirm(t)
	h.backend.replies <- waitReply{res: api.Assignment{Result: api.Assigned, Driver: &models.Driver{Name: "Koffi", Phone: "+229"}}}
	eventually(t, "tracking", func() bool { return h.m.State() == StateTracking })
	eventually(t, "ride channel joined", func() bool {
		return h.hub.Subscribers(realtime.RideChannel(id)) == 1
	})
	return id
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *fakeSettler) released() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func transitionsFrom(hist []Transition, from State) []Transition {
	var out []Transition
	for _, tr := range hist {
		if tr.From == from {
			out = append(out, tr)
		}
	}
	return out
}
