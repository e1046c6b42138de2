// Package state holds the process-wide selection state shared by every booking
// surface: the chosen places and the payment selection. Both stores are safe for
// concurrent use; each field documents its single writer.
package state

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/storage"
)

const (
	keyHome = "fav_home"
	keyWork = "fav_work"
)

// Places is a point-in-time copy of the location selection.
type Places struct {
	Origin      *models.Place `json:"origin"`
	Destination *models.Place `json:"destination"`
	Home        *models.Place `json:"home"`
	Work        *models.Place `json:"work"`
}

// LocationStore holds at most one origin and one destination.
//
// Writers: origin and destination are written by place pickers and by the ride
// core (current position); home and work only by the favorites editor.
// Favorites survive restarts through the injected storage.Store.
type LocationStore struct {
	mu          sync.RWMutex
	origin      *models.Place
	destination *models.Place
	home        *models.Place
	work        *models.Place

	store  storage.Store
	logger *zap.Logger
}

// NewLocationStore loads the persisted favorites once. Load failures are logged
// and leave the favorites empty.
func NewLocationStore(ctx context.Context, store storage.Store, logger *zap.Logger) *LocationStore {
	if store == nil {
		store = storage.NopStore{}
	}
	s := &LocationStore{store: store, logger: logging.OrNop(logger)}
	s.home = s.loadPlace(ctx, keyHome)
	s.work = s.loadPlace(ctx, keyWork)
	return s
}

func (s *LocationStore) SetOrigin(p *models.Place) {
	s.mu.Lock()
	s.origin = clonePlace(p)
	s.mu.Unlock()
}

func (s *LocationStore) SetDestination(p *models.Place) {
	s.mu.Lock()
	s.destination = clonePlace(p)
	s.mu.Unlock()
}

func (s *LocationStore) SetHome(ctx context.Context, p *models.Place) {
	s.mu.Lock()
	s.home = clonePlace(p)
	s.mu.Unlock()
	s.savePlace(ctx, keyHome, p)
}

func (s *LocationStore) SetWork(ctx context.Context, p *models.Place) {
	s.mu.Lock()
	s.work = clonePlace(p)
	s.mu.Unlock()
	s.savePlace(ctx, keyWork, p)
}

// Reset clears origin and destination; favorites are kept.
func (s *LocationStore) Reset() {
	s.mu.Lock()
	s.origin = nil
	s.destination = nil
	s.mu.Unlock()
}

func (s *LocationStore) Snapshot() Places {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Places{
		Origin:      clonePlace(s.origin),
		Destination: clonePlace(s.destination),
		Home:        clonePlace(s.home),
		Work:        clonePlace(s.work),
	}
}

// Route returns origin and destination when both are set.
func (s *LocationStore) Route() (origin, destination models.Place, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.origin == nil || s.destination == nil {
		return models.Place{}, models.Place{}, false
	}
	return *s.origin, *s.destination, true
}

func (s *LocationStore) loadPlace(ctx context.Context, key string) *models.Place {
	b, ok, err := s.store.Load(ctx, key)
	if err != nil {
		s.logger.Warn("favorite load failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var p *models.Place
	if err := json.Unmarshal(b, &p); err != nil {
		s.logger.Warn("favorite decode failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return p
}

func (s *LocationStore) savePlace(ctx context.Context, key string, p *models.Place) {
	b, _ := json.Marshal(p)
	if err := s.store.Save(ctx, key, b); err != nil {
		s.logger.Warn("favorite save failed", zap.String("key", key), zap.Error(err))
	}
}

func clonePlace(p *models.Place) *models.Place {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
