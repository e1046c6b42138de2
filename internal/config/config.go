package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig captures every tunable of the rider client process.
// Values come from the environment (optionally seeded by a .env file)
// with defaults that let the binary start against a local backend.
type ClientConfig struct {
	APIURL       string
	APIToken     string
	RiderID      string
	APITimeout   time.Duration
	APIRateLimit float64
	APIRateBurst int

	RealtimeURL       string
	RealtimeRedisAddr string

	StoreBackend  string
	StorePath     string
	RedisAddr     string
	RedisPassword string
	PGDSN         string

	KafkaBrokers []string
	KafkaTopic   string

	StripeAPIKey   string
	StripeCurrency string

	AssignWaitTimeout    time.Duration
	LocationPollInterval time.Duration
	StatusPollInterval   time.Duration
	SearchDebounce       time.Duration
	EstimateCacheTTL     time.Duration

	DeviceLat        float64
	DeviceLon        float64
	DeviceLocated    bool
	DevicePermission bool

	BridgeAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:               "http://localhost:8000/api",
		APITimeout:           10 * time.Second,
		APIRateLimit:         10,
		APIRateBurst:         20,
		StoreBackend:         "file",
		StorePath:            "rider-prefs.json",
		KafkaTopic:           "rider-transitions",
		StripeCurrency:       "xof",
		AssignWaitTimeout:    25 * time.Second,
		LocationPollInterval: 5 * time.Second,
		StatusPollInterval:   10 * time.Second,
		SearchDebounce:       400 * time.Millisecond,
		EstimateCacheTTL:     2 * time.Minute,
		DevicePermission:     true,
		BridgeAddr:           ":8080",
		ShutdownTimeout:      15 * time.Second,
		LogLevel:             "info",
	}
}

// LoadClientConfig reads the environment. A missing .env file is not an error.
func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()

	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.APIURL, "API_URL")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.APIToken = strings.TrimSpace(os.Getenv("API_TOKEN"))
	cfg.RiderID = strings.TrimSpace(os.Getenv("RIDER_ID"))
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.APIRateLimit, "API_RATE_LIMIT", &errs)
	setIntFromEnv(&cfg.APIRateBurst, "API_RATE_BURST", &errs)

	cfg.RealtimeURL = strings.TrimSpace(os.Getenv("REALTIME_URL"))
	cfg.RealtimeRedisAddr = strings.TrimSpace(os.Getenv("REALTIME_REDIS_ADDR"))

	setStringFromEnv(&cfg.StoreBackend, "STORE_BACKEND")
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	setStringFromEnv(&cfg.StorePath, "STORE_PATH")
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	setDurationFromEnv(&cfg.AssignWaitTimeout, "ASSIGN_WAIT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.LocationPollInterval, "LOCATION_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.StatusPollInterval, "STATUS_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SearchDebounce, "SEARCH_DEBOUNCE", &errs)
	setDurationFromEnv(&cfg.EstimateCacheTTL, "ESTIMATE_CACHE_TTL", &errs)

	if os.Getenv("DEVICE_LAT") != "" || os.Getenv("DEVICE_LON") != "" {
		setFloatFromEnv(&cfg.DeviceLat, "DEVICE_LAT", &errs)
		setFloatFromEnv(&cfg.DeviceLon, "DEVICE_LON", &errs)
		cfg.DeviceLocated = true
	}
	if v := os.Getenv("DEVICE_PERMISSION"); v != "" {
		cfg.DevicePermission = !strings.EqualFold(v, "denied")
	}

	setStringFromEnv(&cfg.BridgeAddr, "BRIDGE_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	for name, d := range map[string]time.Duration{
		"API_TIMEOUT":            cfg.APITimeout,
		"ASSIGN_WAIT_TIMEOUT":    cfg.AssignWaitTimeout,
		"LOCATION_POLL_INTERVAL": cfg.LocationPollInterval,
		"STATUS_POLL_INTERVAL":   cfg.StatusPollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}
	switch cfg.StoreBackend {
	case "memory", "file", "redis", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
