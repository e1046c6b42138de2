package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/rider-client/internal/models"
)

func newTestClient(t *testing.T, token string, routes func(r *mux.Router)) (*Client, *int32) {
	t.Helper()
	var hits int32
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			atomic.AddInt32(&hits, 1)
			next.ServeHTTP(w, req)
		})
	})
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken(token), WithTimeout(2*time.Second)), &hits
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestAuthenticatedCallWithoutTokenSendsNothing(t *testing.T) {
	c, hits := newTestClient(t, "", func(r *mux.Router) {
		r.HandleFunc("/passenger/rides/{id}", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, map[string]any{"status": "accepted"})
		})
		r.HandleFunc("/trips/create", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, map[string]any{"id": 1})
		})
	})
	ctx := context.Background()
	if ride := c.GetRide(ctx, "1"); ride != nil {
		t.Fatalf("expected nil ride, got %+v", ride)
	}
	_, err := c.CreateRide(ctx, CreateTrip{Price: 1000})
	if !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if _, err := c.WaitForAssignment(ctx, "1", time.Second); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 0 {
		t.Fatalf("expected no request, got %d", n)
	}
}

func TestBearerAndRequestIDHeaders(t *testing.T) {
	var auth, reqID string
	c, _ := newTestClient(t, "tok-123", func(r *mux.Router) {
		r.HandleFunc("/passenger/wallet", func(w http.ResponseWriter, req *http.Request) {
			auth = req.Header.Get("Authorization")
			reqID = req.Header.Get("X-Request-ID")
			writeJSON(w, 200, map[string]any{"balance": 2500, "currency": "XOF"})
		})
	})
	w := c.GetWallet(context.Background())
	if w == nil || w.Balance != 2500 || w.Currency != "XOF" {
		t.Fatalf("unexpected wallet %+v", w)
	}
	if auth != "Bearer tok-123" {
		t.Fatalf("authorization header = %q", auth)
	}
	if reqID == "" {
		t.Fatalf("missing request id")
	}
}

func TestReverseGeocode(t *testing.T) {
	c, _ := newTestClient(t, "", func(r *mux.Router) {
		r.HandleFunc("/geocoding/reverse", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			if q.Get("language") != "fr" {
				http.Error(w, "language", 400)
				return
			}
			switch q.Get("lat") {
			case "6.37":
				writeJSON(w, 200, map[string]any{"address": "Ouando, Porto-Novo"})
			case "1":
				w.Write([]byte("{not json"))
			default:
				http.Error(w, "boom", 500)
			}
		})
	})
	ctx := context.Background()
	if addr, ok := c.ReverseGeocode(ctx, 6.37, 2.39); !ok || addr != "Ouando, Porto-Novo" {
		t.Fatalf("got %q %v", addr, ok)
	}
	if _, ok := c.ReverseGeocode(ctx, 1, 1); ok {
		t.Fatalf("malformed body should fail softly")
	}
	if _, ok := c.ReverseGeocode(ctx, 2, 2); ok {
		t.Fatalf("server error should fail softly")
	}
}

func TestSearchAddress(t *testing.T) {
	c, _ := newTestClient(t, "", func(r *mux.Router) {
		r.HandleFunc("/geocoding/search", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			if q.Get("query") != "marché" || q.Get("limit") != "8" {
				http.Error(w, "bad query", 400)
				return
			}
			writeJSON(w, 200, map[string]any{"results": []map[string]any{
				{"place_id": 11, "display_name": "Marché Dantokpa", "lat": "6.3654", "lon": "2.4344"},
				{"place_id": "x", "display_name": "No coords"},
				{"place_id": 12, "display_name": "Marché Ouando", "lat": 6.5, "lon": 2.6},
			}})
		})
	})
	got := c.SearchAddress(context.Background(), " marché ")
	if len(got) != 2 {
		t.Fatalf("expected 2 places, got %+v", got)
	}
	if got[0].Address != "Marché Dantokpa" || got[0].Lat != 6.3654 || got[0].Lon != 2.4344 {
		t.Fatalf("unexpected first place %+v", got[0])
	}
	if got := c.SearchAddress(context.Background(), "nothing"); len(got) != 0 {
		t.Fatalf("expected empty result on error, got %+v", got)
	}
}

func TestEstimateRoute(t *testing.T) {
	var fail atomic.Bool
	c, _ := newTestClient(t, "", func(r *mux.Router) {
		r.HandleFunc("/routing/estimate", func(w http.ResponseWriter, req *http.Request) {
			if fail.Load() {
				http.Error(w, "down", 503)
				return
			}
			var body routeRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Pickup.Lng != 2.391 {
				http.Error(w, "bad body", 400)
				return
			}
			writeJSON(w, 200, map[string]any{"price": 1800, "distance_m": 4700, "eta_s": 720})
		}).Methods(http.MethodPost)
	})
	ctx := context.Background()
	q := c.EstimateRoute(ctx, models.Coord{Lat: 6.370, Lon: 2.391}, models.Coord{Lat: 6.350, Lon: 2.430})
	if q == nil || q.Price != 1800 || q.DistanceMeters != 4700 || q.DurationSeconds != 720 || q.Local {
		t.Fatalf("unexpected quote %+v", q)
	}
	fail.Store(true)
	if q := c.EstimateRoute(ctx, models.Coord{}, models.Coord{}); q != nil {
		t.Fatalf("expected nil quote, got %+v", q)
	}
}

func TestEstimateRouteCache(t *testing.T) {
	c, hits := newTestClient(t, "", func(r *mux.Router) {
		r.HandleFunc("/routing/estimate", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, 200, map[string]any{"price": "1800", "distance_m": 4700, "duration_s": 700})
		}).Methods(http.MethodPost)
	})
	WithEstimateCache(time.Minute)(c)
	ctx := context.Background()
	from, to := models.Coord{Lat: 6.370, Lon: 2.391}, models.Coord{Lat: 6.350, Lon: 2.430}

	first := c.EstimateRoute(ctx, from, to)
	second := c.EstimateRoute(ctx, from, to)
	if first == nil || second == nil || *first != *second || first.DurationSeconds != 700 {
		t.Fatalf("unexpected quotes %+v %+v", first, second)
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("expected one backend call, got %d", n)
	}
	c.EstimateRoute(ctx, to, from)
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Fatalf("reverse route should miss the cache, got %d calls", n)
	}
}

func TestCreateRide(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/trips/create", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Pickup    point   `json:"pickup"`
				DistanceM float64 `json:"distance_m"`
				DurationS float64 `json:"duration_s"`
				Price     float64 `json:"price"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			switch body.Pickup.Label {
			case "bad":
				writeJSON(w, 422, map[string]any{"message": "invalid pickup"})
			case "html":
				w.WriteHeader(500)
				w.Write([]byte("<html>oops</html>"))
			default:
				if body.DistanceM != fallbackDistanceMeters || body.DurationS != fallbackDurationSeconds {
					http.Error(w, "defaults not applied", 400)
					return
				}
				writeJSON(w, 201, map[string]any{"id": 42})
			}
		}).Methods(http.MethodPost)
	})
	ctx := context.Background()

	id, err := c.CreateRide(ctx, CreateTrip{Pickup: models.Place{Address: "ok"}, Price: 1500})
	if err != nil || id != "42" {
		t.Fatalf("got %q %v", id, err)
	}

	_, err = c.CreateRide(ctx, CreateTrip{Pickup: models.Place{Address: "bad"}})
	var ce *CreateError
	if !errors.As(err, &ce) || ce.Status != 422 || ce.Message != "invalid pickup" {
		t.Fatalf("unexpected error %#v", err)
	}
	if err.Error() != "invalid pickup" {
		t.Fatalf("message should be surfaced verbatim, got %q", err.Error())
	}

	_, err = c.CreateRide(ctx, CreateTrip{Pickup: models.Place{Address: "html"}})
	if !errors.As(err, &ce) || ce.Message != defaultCreateMessage {
		t.Fatalf("expected default message, got %v", err)
	}
}

func TestWaitForAssignment(t *testing.T) {
	var status int32 = 204
	var timeoutParam string
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/passenger/rides/{id}/wait-assignment", func(w http.ResponseWriter, req *http.Request) {
			timeoutParam = req.URL.Query().Get("timeout")
			switch s := atomic.LoadInt32(&status); s {
			case 200:
				writeJSON(w, 200, map[string]any{"driver": map[string]any{"name": "Koffi", "phone": "+22990000000"}})
			default:
				w.WriteHeader(int(s))
			}
		})
	})
	ctx := context.Background()

	a, err := c.WaitForAssignment(ctx, "7", 25*time.Second)
	if err != nil || a.Result != TimedOut {
		t.Fatalf("got %+v %v", a, err)
	}
	if timeoutParam != "25" {
		t.Fatalf("timeout param = %q", timeoutParam)
	}

	atomic.StoreInt32(&status, 200)
	a, err = c.WaitForAssignment(ctx, "7", time.Second)
	if err != nil || a.Result != Assigned || a.Driver == nil || a.Driver.Name != "Koffi" {
		t.Fatalf("got %+v %v", a, err)
	}

	atomic.StoreInt32(&status, 500)
	_, err = c.WaitForAssignment(ctx, "7", time.Second)
	var ae *AssignmentError
	if !errors.As(err, &ae) || ae.Status != 500 || !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected AssignmentError, got %v", err)
	}
}

func TestWaitForAssignmentAbortsOnCancel(t *testing.T) {
	entered := make(chan struct{})
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/passenger/rides/{id}/wait-assignment", func(w http.ResponseWriter, req *http.Request) {
			close(entered)
			<-req.Context().Done()
		})
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.WaitForAssignment(ctx, "7", 25*time.Second)
		done <- err
	}()
	<-entered
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("long-poll not aborted")
	}
}

func TestGetRideAndDriverLocation(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/passenger/rides/{id}", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, 200, map[string]any{
				"id":      mux.Vars(req)["id"],
				"status":  "Ongoing",
				"driver":  map[string]any{"name": "Koffi", "phone": "+229"},
				"pickup":  map[string]any{"address": "A", "lat": 6.37, "lng": 2.39},
				"dropoff": map[string]any{"lat": "6.35", "lng": "2.43"},
				"price":   1500,
			})
		})
		r.HandleFunc("/passenger/rides/{id}/driver-location", func(w http.ResponseWriter, req *http.Request) {
			if mux.Vars(req)["id"] == "missing" {
				writeJSON(w, 200, map[string]any{})
				return
			}
			writeJSON(w, 200, map[string]any{"lat": 6.36, "lng": 2.40})
		})
	})
	ctx := context.Background()
	ride := c.GetRide(ctx, "9")
	if ride == nil || ride.ID != "9" || ride.Status != models.RideOngoing || ride.Driver == nil || ride.Dropoff.Lat != 6.35 {
		t.Fatalf("unexpected ride %+v", ride)
	}
	pos := c.GetDriverLocation(ctx, "9")
	if pos == nil || pos.Lat != 6.36 || pos.Lon != 2.40 || pos.At.IsZero() || pos.Pushed {
		t.Fatalf("unexpected position %+v", pos)
	}
	if pos := c.GetDriverLocation(ctx, "missing"); pos != nil {
		t.Fatalf("expected nil without coordinates, got %+v", pos)
	}
}

func TestListsAcceptWrappedAndBareArrays(t *testing.T) {
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/passenger/rides", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, map[string]any{"data": []map[string]any{{"id": 1, "status": "completed"}, {"id": 2, "status": "cancelled"}}})
		})
		r.HandleFunc("/passenger/addresses", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, []map[string]any{{"id": 3, "label": "Maison", "full_address": "Ouando", "lat": 6.4, "lng": 2.6}})
		})
	})
	ctx := context.Background()
	rides := c.ListRides(ctx)
	if len(rides) != 2 || rides[0].ID != "1" || rides[1].Status != models.RideCancelled {
		t.Fatalf("unexpected rides %+v", rides)
	}
	addrs := c.ListAddresses(ctx)
	if len(addrs) != 1 || addrs[0].Label != "Maison" || addrs[0].Lon != 2.6 {
		t.Fatalf("unexpected addresses %+v", addrs)
	}
}

func TestRateDriver(t *testing.T) {
	var got models.Rating
	c, _ := newTestClient(t, "tok", func(r *mux.Router) {
		r.HandleFunc("/passenger/ratings", func(w http.ResponseWriter, req *http.Request) {
			_ = json.NewDecoder(req.Body).Decode(&got)
			if got.RideID == "gone" {
				writeJSON(w, 404, map[string]any{"message": "ride not found"})
				return
			}
			w.WriteHeader(204)
		}).Methods(http.MethodPost)
	})
	ctx := context.Background()
	if err := c.RateDriver(ctx, models.Rating{RideID: "5", Stars: 6}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := c.RateDriver(ctx, models.Rating{RideID: "5", Stars: 4, Comment: " top "}); err != nil {
		t.Fatalf("rate: %v", err)
	}
	if got.Stars != 4 || got.Comment != "top" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if err := c.RateDriver(ctx, models.Rating{RideID: "gone", Stars: 3}); !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("expected ErrUnexpectedStatus, got %v", err)
	}
}
