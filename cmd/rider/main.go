// Command rider runs the passenger client: the ride state machine, its
// backend and realtime connections, and the local bridge a UI shell talks to.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/api"
	"github.com/example/rider-client/internal/config"
	"github.com/example/rider-client/internal/dispatch"
	"github.com/example/rider-client/internal/geolocation"
	httpapi "github.com/example/rider-client/internal/http"
	"github.com/example/rider-client/internal/lifecycle"
	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/payments"
	"github.com/example/rider-client/internal/realtime"
	"github.com/example/rider-client/internal/state"
	"github.com/example/rider-client/internal/storage"
	"github.com/example/rider-client/internal/telemetry"
)

func main() {
	cfg, err := config.LoadClientConfig()
	logger, lerr := logging.NewLogger(cfg.LogLevel)
	if lerr != nil {
		panic(lerr)
	}
	defer logger.Sync()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	riderID := cfg.RiderID
	if riderID == "" && cfg.APIToken != "" {
		if id, err := api.RiderIDFromToken(cfg.APIToken); err == nil {
			riderID = id
		} else {
			logger.Warn("rider id not found in token, realtime push disabled", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(cfg, riderID, logger)
	defer closeStore()

	client := api.NewClient(cfg.APIURL, api.StaticToken(cfg.APIToken),
		api.WithTimeout(cfg.APITimeout),
		api.WithRateLimit(cfg.APIRateLimit, cfg.APIRateBurst),
		api.WithEstimateCache(cfg.EstimateCacheTTL),
		api.WithLogger(logger),
	)

	stripeAuth := payments.NewStripeAuthorizer(cfg.StripeAPIKey, cfg.StripeCurrency)
	places := state.NewLocationStore(ctx, store, logger)
	payment := state.NewPaymentStore(ctx, store, stripeAuth, logger)
	if w := client.GetWallet(ctx); w != nil {
		payment.SyncBalance(ctx, w.Balance)
	}

	transport, closeTransport := openTransport(cfg, logger)
	defer closeTransport()

	var publisher telemetry.Publisher = telemetry.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = telemetry.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	defer publisher.Close()

	source := geolocation.StaticSource{
		Position: models.Coord{Lat: cfg.DeviceLat, Lon: cfg.DeviceLon},
		Located:  cfg.DeviceLocated,
		Granted:  cfg.DevicePermission,
	}

	machine := lifecycle.New(lifecycle.Deps{
		Backend:   client,
		Realtime:  realtime.NewClient(transport, logger),
		Locator:   geolocation.NewAdapter(source, logger),
		Places:    places,
		Payment:   payment,
		Settler:   stripeAuth,
		Publisher: publisher,
		Logger:    logger,
	}, lifecycle.Config{
		RiderID:              riderID,
		AssignWaitTimeout:    cfg.AssignWaitTimeout,
		LocationPollInterval: cfg.LocationPollInterval,
		StatusPollInterval:   cfg.StatusPollInterval,
	})

	wsreg := dispatch.NewWSRegistry(logger)
	updates, unwatch := machine.Watch()
	go dispatch.Follow(ctx, wsreg, updates)

	srv := httpapi.NewServer(machine, api.NewSearcher(client, cfg.SearchDebounce), client, wsreg, logger)
	httpServer := &http.Server{Addr: cfg.BridgeAddr, Handler: srv, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("rider bridge listening", zap.String("addr", cfg.BridgeAddr), zap.String("api", cfg.APIURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("bridge stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	wsreg.Close()

	if err := machine.Cancel(shutdownCtx); err != nil && !errors.Is(err, lifecycle.ErrNoActiveRide) {
		logger.Warn("cancel active ride", zap.Error(err))
	}
	unwatch()
	_ = machine.Close()
	logger.Info("stopped", zap.Int("workers", machine.ActiveWorkers()))
}

func openStore(cfg config.ClientConfig, riderID string, logger *zap.Logger) (storage.Store, func()) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemoryStore(), func() {}
	case "redis":
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, riderID)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			logger.Warn("redis store unreachable, preferences kept in memory", zap.Error(err))
			_ = rs.Close()
			return storage.NewMemoryStore(), func() {}
		}
		return rs, func() { _ = rs.Close() }
	case "postgres":
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres store unavailable, preferences kept in memory", zap.Error(err))
			return storage.NewMemoryStore(), func() {}
		}
		return ps, func() { _ = ps.Close() }
	default:
		return storage.NewFileStore(cfg.StorePath), func() {}
	}
}

// openTransport picks the realtime transport: the websocket endpoint, a Redis
// pub/sub relay, or none, in which case assignment relies on polling alone.
func openTransport(cfg config.ClientConfig, logger *zap.Logger) (realtime.Transport, func()) {
	switch {
	case cfg.RealtimeURL != "":
		t := realtime.NewWSTransport(cfg.RealtimeURL, cfg.APIToken, logger)
		return t, func() { _ = t.Close() }
	case cfg.RealtimeRedisAddr != "":
		t := realtime.NewRedisTransport(cfg.RealtimeRedisAddr, cfg.RedisPassword, logger)
		return t, func() { _ = t.Close() }
	default:
		logger.Info("realtime disabled, assignment by polling only")
		return realtime.Disabled{}, func() {}
	}
}
