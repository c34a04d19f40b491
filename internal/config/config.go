// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/proxctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/albapepper/proximity-alerts/internal/proximity"
)

// Backend names for STORE_BACKEND and PAIR_STATE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// --------------------------------------------------------------------------
// Config is populated from environment variables.
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration
	MigrateOnStart bool

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// Per-user location ingestion (updates per minute, 0 disables)
	IngestPerMinute int

	// Auth & push
	JWTSecret          string
	FCMCredentialsFile string

	// Cache
	CacheEnabled bool

	// Engine
	NearbyThresholdMeters  float64
	MeetingThresholdMeters float64
	AlertCooldown          time.Duration
	MeetingDuration        time.Duration
	StalenessWindow        time.Duration
	RecentWindow           time.Duration
	IOTimeout              time.Duration
	FanOutWorkers          int

	// Backends
	StoreBackend     string
	PairStateBackend string
	ListenerEnabled  bool
	// JSON users/contacts fixture applied at startup (optional)
	SeedFile string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,
		MigrateOnStart: envBool("MIGRATE_ON_START", false),

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
			"http://localhost:8081",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,
		IngestPerMinute:   envInt("INGEST_PER_MINUTE", 60),

		JWTSecret:          envOr("JWT_SECRET", ""),
		FCMCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", ""),

		CacheEnabled: envBool("CACHE_ENABLED", true),

		NearbyThresholdMeters:  envFloat("NEARBY_THRESHOLD_METERS", 500),
		MeetingThresholdMeters: envFloat("MEETING_THRESHOLD_METERS", 50),
		AlertCooldown:          envDuration("ALERT_COOLDOWN", 5*time.Minute),
		MeetingDuration:        envDuration("MEETING_DURATION", 5*time.Minute),
		StalenessWindow:        envDuration("STALENESS_WINDOW", 10*time.Minute),
		RecentWindow:           envDuration("RECENT_WINDOW", 10*time.Minute),
		IOTimeout:              envDuration("IO_TIMEOUT", 3*time.Second),
		FanOutWorkers:          envInt("FANOUT_WORKERS", 8),

		StoreBackend:     strings.ToLower(envOr("STORE_BACKEND", BackendPostgres)),
		PairStateBackend: strings.ToLower(envOr("PAIR_STATE_BACKEND", BackendMemory)),
		ListenerEnabled:  envBool("LISTENER_ENABLED", true),
		SeedFile:         envOr("SEED_FILE", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules Load cannot express as defaults.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set when STORE_BACKEND=postgres"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q: want postgres or memory", c.StoreBackend))
	}
	switch c.PairStateBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.StoreBackend != BackendPostgres {
			errs = append(errs, errors.New("PAIR_STATE_BACKEND=postgres requires STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAIR_STATE_BACKEND %q: want memory or postgres", c.PairStateBackend))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.MeetingThresholdMeters <= 0 || c.NearbyThresholdMeters < c.MeetingThresholdMeters {
		errs = append(errs, fmt.Errorf("thresholds: need 0 < MEETING_THRESHOLD_METERS (%v) <= NEARBY_THRESHOLD_METERS (%v)",
			c.MeetingThresholdMeters, c.NearbyThresholdMeters))
	}
	for name, d := range map[string]time.Duration{
		"ALERT_COOLDOWN":   c.AlertCooldown,
		"MEETING_DURATION": c.MeetingDuration,
		"STALENESS_WINDOW": c.StalenessWindow,
		"RECENT_WINDOW":    c.RecentWindow,
		"IO_TIMEOUT":       c.IOTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Engine projects the engine thresholds.
func (c *Config) Engine() proximity.Settings {
	return proximity.Settings{
		NearbyThreshold:  c.NearbyThresholdMeters,
		MeetingThreshold: c.MeetingThresholdMeters,
		Cooldown:         c.AlertCooldown,
		MeetingDuration:  c.MeetingDuration,
		StalenessWindow:  c.StalenessWindow,
		IOTimeout:        c.IOTimeout,
	}
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s", "5m") or bare seconds.
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
