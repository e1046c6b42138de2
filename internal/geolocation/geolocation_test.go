package geolocation

import (
	"context"
	"errors"
	"testing"

	"github.com/example/rider-client/internal/models"
)

type brokenSource struct{ permErr, posErr error }

func (b brokenSource) RequestPermission(context.Context) (bool, error) { return true, b.permErr }
func (b brokenSource) CurrentPosition(context.Context) (models.Coord, error) {
	return models.Coord{}, b.posErr
}

func TestRequestCurrentPosition(t *testing.T) {
	here := models.Coord{Lat: 6.4969, Lon: 2.6289}
	tests := []struct {
		name   string
		source Source
		want   models.Coord
		err    error
	}{
		{"granted", StaticSource{Position: here, Located: true, Granted: true}, here, nil},
		{"denied", StaticSource{Position: here, Located: true}, models.Coord{}, ErrPermissionDenied},
		{"gps off", StaticSource{Granted: true}, models.Coord{}, ErrUnavailable},
		{"no module", nil, models.Coord{}, ErrUnavailable},
		{"provider error", brokenSource{posErr: errors.New("timeout")}, models.Coord{}, ErrUnavailable},
		{"permission error", brokenSource{permErr: errors.New("no ui")}, models.Coord{}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewAdapter(tt.source, nil).RequestCurrentPosition(context.Background())
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
