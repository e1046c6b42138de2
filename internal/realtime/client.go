// Package realtime subscribes to the private pub/sub channels that announce
// driver assignment and driver movement.
//
// Delivery is at-most-once and best effort. Connection and subscription
// failures are logged and swallowed; callers keep polling regardless.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/observability"
)

const (
	EventRideAccepted   = "ride.accepted"
	EventDriverLocation = "driver.location.updated"
)

var (
	ErrDisabled = errors.New("realtime disabled")
	ErrClosed   = errors.New("realtime transport closed")
)

func RiderChannel(riderID string) string { return "private-rider." + riderID }
func RideChannel(rideID string) string   { return "private-ride." + rideID }

type Event struct {
	Channel string
	Name    string
	Data    json.RawMessage
}

type Handler func(Event)

// Handlers maps event names to the handler bound on a channel.
type Handlers map[string]Handler

// Transport carries channel subscriptions. deliver may be called from any
// goroutine until the returned unsubscribe func has been called.
type Transport interface {
	Subscribe(ctx context.Context, channel string, deliver func(Event)) (unsubscribe func(), err error)
}

// Disabled is the transport used when no realtime service is configured.
type Disabled struct{}

func (Disabled) Subscribe(context.Context, string, func(Event)) (func(), error) {
	return nil, ErrDisabled
}

type Client struct {
	transport Transport
	logger    *zap.Logger

	mu     sync.Mutex
	active map[*Subscription]struct{}
}

func NewClient(transport Transport, logger *zap.Logger) *Client {
	if transport == nil {
		transport = Disabled{}
	}
	return &Client{transport: transport, logger: logging.OrNop(logger), active: make(map[*Subscription]struct{})}
}

// SubscribeRider listens on the rider's private channel. It returns nil when
// riderID is empty or the subscription failed.
func (c *Client) SubscribeRider(ctx context.Context, riderID string, h Handlers) *Subscription {
	if riderID == "" {
		return nil
	}
	return c.Subscribe(ctx, RiderChannel(riderID), h)
}

// SubscribeRide listens on a ride's private channel.
func (c *Client) SubscribeRide(ctx context.Context, rideID string, h Handlers) *Subscription {
	if rideID == "" {
		return nil
	}
	return c.Subscribe(ctx, RideChannel(rideID), h)
}

// Subscribe binds h before the channel is joined so no early event is lost to
// a missing handler.
func (c *Client) Subscribe(ctx context.Context, channel string, h Handlers) *Subscription {
	s := &Subscription{channel: channel, client: c, handlers: make(map[string][]Handler)}
	for name, fn := range h {
		s.handlers[name] = append(s.handlers[name], fn)
	}
	stop, err := c.transport.Subscribe(ctx, channel, s.dispatch)
	if err != nil {
		if errors.Is(err, ErrDisabled) {
			c.logger.Debug("realtime disabled", zap.String("channel", channel))
		} else {
			c.logger.Warn("realtime subscribe failed", zap.String("channel", channel), zap.Error(err))
		}
		return nil
	}
	s.stop = stop

	c.mu.Lock()
	c.active[s] = struct{}{}
	c.mu.Unlock()
	observability.RealtimeSubscriptions.Inc()
	return s
}

// Unsubscribe is safe on nil and on closed subscriptions.
func (c *Client) Unsubscribe(s *Subscription) { s.Unsubscribe() }

// Active counts subscriptions not yet released.
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

func (c *Client) release(s *Subscription) {
	c.mu.Lock()
	_, ok := c.active[s]
	delete(c.active, s)
	c.mu.Unlock()
	if ok {
		observability.RealtimeSubscriptions.Dec()
	}
}

type Subscription struct {
	channel string
	client  *Client

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
	stop     func()
}

func (s *Subscription) Channel() string {
	if s == nil {
		return ""
	}
	return s.channel
}

// Bind adds a handler for a named event.
func (s *Subscription) Bind(event string, h Handler) {
	if s == nil || h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.handlers[event] = append(s.handlers[event], h)
}

// Unsubscribe leaves the channel. Events dispatched after it returns are
// dropped, but a handler already running for an earlier event may still be
// finishing; handlers that touch shared state must check it themselves.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stop
	s.handlers = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.client.release(s)
}

func (s *Subscription) dispatch(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hs := append([]Handler(nil), s.handlers[ev.Name]...)
	s.mu.Unlock()

	if len(hs) == 0 {
		return
	}
	observability.RealtimeEventsTotal.WithLabelValues(ev.Name).Inc()
	for _, h := range hs {
		h(ev)
	}
}

// frame is the wire envelope shared by the websocket and redis transports.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// payload unwraps data sent as a JSON-encoded string.
func (f frame) payload() json.RawMessage {
	d := bytes.TrimSpace(f.Data)
	if len(d) > 0 && d[0] == '"' {
		var s string
		if err := json.Unmarshal(d, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return d
}
