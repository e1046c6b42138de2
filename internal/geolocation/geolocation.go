// Package geolocation asks the device for a single best-effort position.
package geolocation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
)

var (
	// ErrPermissionDenied must be shown to the rider; it is never retried.
	ErrPermissionDenied = errors.New("location permission denied")
	ErrUnavailable      = errors.New("location unavailable")
)

// Source is the device location capability.
type Source interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context) (models.Coord, error)
}

type Adapter struct {
	source Source
	logger *zap.Logger
}

// NewAdapter accepts a nil source for devices without location support.
func NewAdapter(source Source, logger *zap.Logger) *Adapter {
	if source == nil {
		source = NoSource{}
	}
	return &Adapter{source: source, logger: logging.OrNop(logger)}
}

// RequestCurrentPosition asks for permission, then for one position. Errors are
// ErrPermissionDenied or wrap ErrUnavailable.
func (a *Adapter) RequestCurrentPosition(ctx context.Context) (models.Coord, error) {
	granted, err := a.source.RequestPermission(ctx)
	if err != nil {
		return models.Coord{}, fmt.Errorf("%w: permission request: %v", ErrUnavailable, err)
	}
	if !granted {
		return models.Coord{}, ErrPermissionDenied
	}
	c, err := a.source.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrPermissionDenied) {
			return models.Coord{}, err
		}
		a.logger.Debug("position provider failed", zap.Error(err))
		return models.Coord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

// StaticSource reports a configured position, as on emulators and kiosks.
type StaticSource struct {
	Position models.Coord
	Located  bool // false models a device with GPS off
	Granted  bool
}

func (s StaticSource) RequestPermission(context.Context) (bool, error) { return s.Granted, nil }

func (s StaticSource) CurrentPosition(ctx context.Context) (models.Coord, error) {
	if err := ctx.Err(); err != nil {
		return models.Coord{}, err
	}
	if !s.Located {
		return models.Coord{}, ErrUnavailable
	}
	return s.Position, nil
}

// NoSource is a device without a location module.
type NoSource struct{}

func (NoSource) RequestPermission(context.Context) (bool, error) { return true, nil }

func (NoSource) CurrentPosition(context.Context) (models.Coord, error) {
	return models.Coord{}, ErrUnavailable
}
