// Package dispatch fans ride snapshots out to the UI sessions attached to the
// local bridge.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/observability"
)

const writeWait = 5 * time.Second

// WSSession is one connected UI.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds UI sessions and broadcasts to all of them.
type WSRegistry struct {
	mu       sync.RWMutex
	next     uint64
	sessions map[uint64]*WSSession
	logger   *zap.Logger
}

func NewWSRegistry(logger *zap.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[uint64]*WSSession), logger: logging.OrNop(logger)}
}

// Add registers conn and sends it initial, if not nil. The session is dropped
// when the peer goes away.
func (r *WSRegistry) Add(conn *websocket.Conn, initial any) uint64 {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.next++
	id := r.next
	r.sessions[id] = s
	r.mu.Unlock()
	observability.BridgeSessions.Inc()

	if initial != nil {
		if err := s.Send(initial); err != nil {
			r.Remove(id)
			return id
		}
	}
	go r.discardReads(id, conn)
	return id
}

// discardReads keeps control frames flowing and notices closed peers.
func (r *WSRegistry) discardReads(id uint64, conn *websocket.Conn) {
	defer r.Remove(id)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (r *WSRegistry) Remove(id uint64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		observability.BridgeSessions.Dec()
		_ = s.conn.Close()
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Broadcast sends v to every session and returns how many accepted it.
// Sessions that fail to accept it are dropped.
func (r *WSRegistry) Broadcast(v any) int {
	r.mu.RLock()
	targets := make(map[uint64]*WSSession, len(r.sessions))
	for id, s := range r.sessions {
		targets[id] = s
	}
	r.mu.RUnlock()

	sent := 0
	for id, s := range targets {
		if err := s.Send(v); err != nil {
			r.logger.Debug("ws send failed, dropping session", zap.Uint64("session", id), zap.Error(err))
			r.Remove(id)
			continue
		}
		sent++
	}
	return sent
}

// Follow broadcasts every value read from updates until ctx ends or updates
// is closed.
func Follow[T any](ctx context.Context, r *WSRegistry, updates <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			r.Broadcast(v)
		}
	}
}

// Close drops every session.
func (r *WSRegistry) Close() {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	for _, id := range ids {
		r.Remove(id)
	}
}
