package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	minRedial = time.Second
	maxRedial = 30 * time.Second
)

// WSTransport speaks the pusher channel protocol over one shared websocket.
// Subscriptions survive reconnects: every joined channel is re-subscribed on
// a fresh connection.
type WSTransport struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	conn    *wsConn
	subs    map[string]map[uint64]func(Event)
	next    uint64
	closed  bool
	redial  bool
	closeCh chan struct{}
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *wsConn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type controlFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewWSTransport dials lazily on the first subscription. token is sent as a
// bearer header and as the channel auth.
func NewWSTransport(url, token string, logger *zap.Logger) *WSTransport {
	return &WSTransport{
		url:     url,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logging.OrNop(logger),
		subs:    make(map[string]map[uint64]func(Event)),
		closeCh: make(chan struct{}),
	}
}

func (t *WSTransport) Subscribe(ctx context.Context, channel string, deliver func(Event)) (func(), error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	t.next++
	id := t.next
	first := len(t.subs[channel]) == 0
	if first {
		t.subs[channel] = make(map[uint64]func(Event))
	}
	t.subs[channel][id] = deliver
	conn := t.conn
	t.mu.Unlock()

	var err error
	if conn == nil {
		// a fresh connection joins every registered channel, this one included
		_, err = t.connect(ctx)
	} else if first {
		err = conn.write(controlFrame{Event: "pusher:subscribe", Data: subscribeData{Channel: channel, Auth: t.token}})
	}
	if err != nil {
		t.remove(channel, id)
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { t.remove(channel, id) }) }, nil
}

func (t *WSTransport) remove(channel string, id uint64) {
	t.mu.Lock()
	delete(t.subs[channel], id)
	emptied := false
	if len(t.subs[channel]) == 0 {
		delete(t.subs, channel)
		emptied = true
	}
	conn := t.conn
	idle := len(t.subs) == 0
	if idle {
		t.conn = nil
	}
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if idle {
		conn.close()
		return
	}
	if emptied {
		if err := conn.write(controlFrame{Event: "pusher:unsubscribe", Data: subscribeData{Channel: channel}}); err != nil {
			t.logger.Debug("realtime unsubscribe frame failed", zap.String("channel", channel), zap.Error(err))
		}
	}
}

// connect dials, joins every registered channel and starts the pumps.
func (t *WSTransport) connect(ctx context.Context) (*wsConn, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	ws, _, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)
	conn := &wsConn{ws: ws, done: make(chan struct{})}

	t.mu.Lock()
	if t.closed || len(t.subs) == 0 {
		t.mu.Unlock()
		conn.close()
		return nil, ErrClosed
	}
	if t.conn != nil {
		// lost a dial race; the winner already joined every channel
		existing := t.conn
		t.mu.Unlock()
		conn.close()
		return existing, nil
	}
	t.conn = conn
	channels := make([]string, 0, len(t.subs))
	for ch := range t.subs {
		channels = append(channels, ch)
	}
	t.mu.Unlock()

	for _, ch := range channels {
		if err := conn.write(controlFrame{Event: "pusher:subscribe", Data: subscribeData{Channel: ch, Auth: t.token}}); err != nil {
			t.drop(conn)
			return nil, err
		}
	}
	go t.readPump(conn)
	go t.pingPump(conn)
	return conn, nil
}

func (t *WSTransport) readPump(conn *wsConn) {
	defer t.drop(conn)

	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("realtime connection lost", zap.Error(err))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		t.handleMessage(conn, message)
	}
}

func (t *WSTransport) handleMessage(conn *wsConn, message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		t.logger.Debug("realtime frame malformed", zap.Error(err))
		return
	}
	switch {
	case f.Event == "pusher:ping":
		_ = conn.write(controlFrame{Event: "pusher:pong", Data: struct{}{}})
		return
	case strings.HasPrefix(f.Event, "pusher:"), strings.HasPrefix(f.Event, "pusher_internal:"):
		return
	}

	t.mu.Lock()
	targets := make([]func(Event), 0, len(t.subs[f.Channel]))
	for _, d := range t.subs[f.Channel] {
		targets = append(targets, d)
	}
	t.mu.Unlock()

	ev := Event{Channel: f.Channel, Name: f.Event, Data: f.payload()}
	for _, d := range targets {
		d(ev)
	}
}

func (t *WSTransport) pingPump(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			conn.writeMu.Lock()
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// drop forgets a dead connection and redials while channels remain joined.
func (t *WSTransport) drop(conn *wsConn) {
	conn.close()
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	start := !t.closed && !t.redial && len(t.subs) > 0
	if start {
		t.redial = true
	}
	t.mu.Unlock()
	if start {
		go t.redialLoop()
	}
}

func (t *WSTransport) redialLoop() {
	defer func() {
		t.mu.Lock()
		t.redial = false
		t.mu.Unlock()
	}()
	backoff := minRedial
	for {
		select {
		case <-t.closeCh:
			return
		case <-time.After(backoff):
		}
		t.mu.Lock()
		done := t.closed || len(t.subs) == 0 || t.conn != nil
		t.mu.Unlock()
		if done {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.dialer.HandshakeTimeout)
		_, err := t.connect(ctx)
		cancel()
		if err == nil {
			t.logger.Info("realtime reconnected")
			return
		}
		t.logger.Warn("realtime redial failed", zap.Duration("backoff", backoff), zap.Error(err))
		backoff *= 2
		if backoff > maxRedial {
			backoff = maxRedial
		}
	}
}

// Close drops every subscription and the connection.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	conn := t.conn
	t.conn = nil
	t.subs = make(map[string]map[uint64]func(Event))
	t.mu.Unlock()
	if conn != nil {
		conn.close()
	}
	return nil
}
