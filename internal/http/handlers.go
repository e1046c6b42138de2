// Package httpapi is the local bridge a UI shell drives the rider client
// through.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/rider-client/internal/api"
	"github.com/example/rider-client/internal/dispatch"
	"github.com/example/rider-client/internal/geolocation"
	"github.com/example/rider-client/internal/lifecycle"
	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/state"
	"github.com/example/rider-client/internal/suggest"
)

type AddressSearch interface {
	Search(ctx context.Context, query string) ([]models.Place, error)
}

// Account is the rider's backend data shown outside the ride flow.
type Account interface {
	GetWallet(ctx context.Context) *models.Wallet
	ListRides(ctx context.Context) []models.Ride
	ListAddresses(ctx context.Context) []models.SavedAddress
}

type Server struct {
	Machine *lifecycle.Machine
	Search  AddressSearch
	Account Account
	Ranker  suggest.Ranker
	WSReg   *dispatch.WSRegistry
	mux     *mux.Router
	logger  *zap.Logger
}

func NewServer(m *lifecycle.Machine, search AddressSearch, account Account, wsreg *dispatch.WSRegistry, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger)
	if wsreg == nil {
		wsreg = dispatch.NewWSRegistry(logger)
	}
	s := &Server{Machine: m, Search: search, Account: account, Ranker: suggest.Ranker{TopN: 8}, WSReg: wsreg, mux: mux.NewRouter(), logger: logger}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.mux.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/state", s.handleState).Methods("GET")
	v1.HandleFunc("/places/reset", s.handleResetPlaces).Methods("POST")
	v1.HandleFunc("/places/{slot:origin|destination|home|work}", s.handleSetPlace).Methods("PUT")
	v1.HandleFunc("/places/{slot:origin|destination|home|work}", s.handleClearPlace).Methods("DELETE")
	v1.HandleFunc("/payment/method", s.handlePaymentMethod).Methods("PUT")
	v1.HandleFunc("/payment/wallet/sync", s.handleWalletSync).Methods("POST")
	v1.HandleFunc("/payment/wallet/topup", s.handleWalletTopUp).Methods("POST")
	v1.HandleFunc("/account/rides", s.handleRideHistory).Methods("GET")
	v1.HandleFunc("/account/addresses", s.handleSavedAddresses).Methods("GET")
	v1.HandleFunc("/location/current", s.handleCurrentLocation).Methods("POST")
	v1.HandleFunc("/search", s.handleSearch).Methods("GET")
	v1.HandleFunc("/rides/service", s.handleServiceType).Methods("PUT")
	v1.HandleFunc("/rides/quote", s.handleQuote).Methods("POST")
	v1.HandleFunc("/rides/confirm", s.handleConfirm).Methods("POST")
	v1.HandleFunc("/rides/cancel", s.handleCancel).Methods("POST")
	v1.HandleFunc("/rides/ack", s.handleAck).Methods("POST")
	v1.HandleFunc("/rides/rate", s.handleRate).Methods("POST")
	v1.HandleFunc("/rides/receipt", s.handleReceipt).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type stateResponse struct {
	Ride    lifecycle.Snapshot      `json:"ride"`
	Places  state.Places            `json:"places"`
	Payment models.PaymentSelection `json:"payment"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse{
		Ride:    s.Machine.Snapshot(),
		Places:  s.Machine.Places().Snapshot(),
		Payment: s.Machine.Payment().Selection(),
	})
}

func (s *Server) handleSetPlace(w http.ResponseWriter, r *http.Request) {
	var p models.Place
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	p.Address = strings.TrimSpace(p.Address)
	if p.Address == "" || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		http.Error(w, "address and valid coordinates required", 400)
		return
	}
	s.setPlace(r.Context(), mux.Vars(r)["slot"], &p)
	w.WriteHeader(204)
}

func (s *Server) handleClearPlace(w http.ResponseWriter, r *http.Request) {
	s.setPlace(r.Context(), mux.Vars(r)["slot"], nil)
	w.WriteHeader(204)
}

func (s *Server) setPlace(ctx context.Context, slot string, p *models.Place) {
	places := s.Machine.Places()
	switch slot {
	case "origin":
		places.SetOrigin(p)
		s.Machine.InvalidateQuote()
	case "destination":
		places.SetDestination(p)
		s.Machine.InvalidateQuote()
	case "home":
		places.SetHome(ctx, p)
	case "work":
		places.SetWork(ctx, p)
	}
}

func (s *Server) handleResetPlaces(w http.ResponseWriter, r *http.Request) {
	s.Machine.Places().Reset()
	s.Machine.InvalidateQuote()
	w.WriteHeader(204)
}

func (s *Server) handlePaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method models.PaymentMethod `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.Machine.Payment().SetMethod(r.Context(), req.Method); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Machine.Payment().Selection())
}

// handleWalletSync replaces the local balance with the backend's.
func (s *Server) handleWalletSync(w http.ResponseWriter, r *http.Request) {
	if s.Account == nil {
		http.Error(w, "account unavailable", 503)
		return
	}
	wallet := s.Account.GetWallet(r.Context())
	if wallet == nil {
		http.Error(w, "wallet unavailable", 502)
		return
	}
	s.Machine.Payment().SyncBalance(r.Context(), wallet.Balance)
	writeJSON(w, http.StatusOK, s.Machine.Payment().Selection())
}

func (s *Server) handleWalletTopUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.Machine.Payment().AddFunds(r.Context(), req.Amount)
	writeJSON(w, http.StatusOK, s.Machine.Payment().Selection())
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	rides := []models.Ride{}
	if s.Account != nil {
		if got := s.Account.ListRides(r.Context()); got != nil {
			rides = got
		}
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleSavedAddresses(w http.ResponseWriter, r *http.Request) {
	addrs := []models.SavedAddress{}
	if s.Account != nil {
		if got := s.Account.ListAddresses(r.Context()); got != nil {
			addrs = got
		}
	}
	writeJSON(w, http.StatusOK, addrs)
}

func (s *Server) handleCurrentLocation(w http.ResponseWriter, r *http.Request) {
	p, err := s.Machine.UseCurrentLocation(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.Search == nil {
		http.Error(w, "search unavailable", 503)
		return
	}
	results, err := s.Search.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var from *models.Coord
	if o := s.Machine.Places().Snapshot().Origin; o != nil {
		c := o.Coord()
		from = &c
	}
	writeJSON(w, http.StatusOK, s.Ranker.Rank(from, results))
}

func (s *Server) handleServiceType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Service models.ServiceType `json:"service_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if !req.Service.Valid() {
		http.Error(w, "unknown service type", 400)
		return
	}
	if err := s.Machine.SetServiceType(req.Service); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.Machine.Quote(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, err := s.Machine.Confirm(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ride_id": id})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Machine.Cancel(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	if err := s.Machine.Acknowledge(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stars   int    `json:"stars"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Stars < 1 || req.Stars > 5 {
		http.Error(w, "stars must be between 1 and 5", 400)
		return
	}
	if err := s.Machine.Rate(r.Context(), req.Stars, req.Comment); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(204)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	night, _ := strconv.ParseBool(r.URL.Query().Get("night"))
	rc, err := s.Machine.Receipt(night)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS streams a snapshot after every change, starting with the current one.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}
	s.WSReg.Add(conn, s.Machine.Snapshot())
}

// writeError maps domain errors to status codes. The body is the message the
// rider should see.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ce *api.CreateError
	switch {
	case errors.As(err, &ce):
		status = http.StatusBadGateway
	case errors.Is(err, lifecycle.ErrNoRoute),
		errors.Is(err, state.ErrUnknownMethod):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrPaymentNotReady):
		status = http.StatusPaymentRequired
	case errors.Is(err, geolocation.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, geolocation.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrNoActiveRide),
		errors.Is(err, lifecycle.ErrQuoteSuperseded),
		errors.Is(err, lifecycle.ErrCancelled),
		errors.Is(err, api.ErrSuperseded):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		// client went away
		status = 499
	}
	if status >= 500 {
		s.logger.Warn("bridge request failed", zap.Int("status", status), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
