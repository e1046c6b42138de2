package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Hub is an in-process Transport. Publish delivers synchronously on the
// caller's goroutine.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs map[string]map[uint64]func(Event)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[uint64]func(Event))}
}

func (h *Hub) Subscribe(_ context.Context, channel string, deliver func(Event)) (func(), error) {
	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]func(Event))
	}
	h.subs[channel][id] = deliver
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], id)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			h.mu.Unlock()
		})
	}, nil
}

// Publish sends event to every subscriber of channel and returns how many
// received it.
func (h *Hub) Publish(channel, event string, data any) (int, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return 0, err
	}
	h.mu.RLock()
	targets := make([]func(Event), 0, len(h.subs[channel]))
	for _, d := range h.subs[channel] {
		targets = append(targets, d)
	}
	h.mu.RUnlock()

	for _, d := range targets {
		d(Event{Channel: channel, Name: event, Data: b})
	}
	return len(targets), nil
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}
