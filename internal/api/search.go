package api

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/example/rider-client/internal/models"
)

// MinSearchLength is the shortest query sent to the geocoder.
const MinSearchLength = 3

var ErrSuperseded = errors.New("search superseded by a newer query")

type AddressSearcher interface {
	SearchAddress(ctx context.Context, query string) []models.Place
}

// Searcher debounces address lookups typed by the rider. Each call supersedes
// the previous one: a pending call returns ErrSuperseded without reaching the
// backend, and an in-flight request is aborted.
type Searcher struct {
	backend  AddressSearcher
	debounce time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

func NewSearcher(backend AddressSearcher, debounce time.Duration) *Searcher {
	return &Searcher{backend: backend, debounce: debounce}
}

// Search blocks for the debounce window, then queries the backend. Queries
// shorter than MinSearchLength return no results and send nothing.
func (s *Searcher) Search(ctx context.Context, query string) ([]models.Place, error) {
	query = strings.TrimSpace(query)

	callCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()
	defer s.release(seq, cancel)

	if utf8.RuneCountInString(query) < MinSearchLength {
		return nil, nil
	}

	if s.debounce > 0 {
		timer := time.NewTimer(s.debounce)
		select {
		case <-timer.C:
		case <-callCtx.Done():
			timer.Stop()
			return nil, s.cause(ctx)
		}
	}

	places := s.backend.SearchAddress(callCtx, query)
	if callCtx.Err() != nil {
		return nil, s.cause(ctx)
	}
	return places, nil
}

func (s *Searcher) cause(parent context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return ErrSuperseded
}

// release forgets the cancel func unless a newer search replaced it.
func (s *Searcher) release(seq uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	if s.seq == seq {
		s.cancel = nil
	}
	s.mu.Unlock()
}
