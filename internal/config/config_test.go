package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/prox")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Engine()
	if s.NearbyThreshold != 500 || s.MeetingThreshold != 50 {
		t.Fatalf("thresholds = %v / %v", s.NearbyThreshold, s.MeetingThreshold)
	}
	if s.Cooldown != 5*time.Minute || s.MeetingDuration != 5*time.Minute ||
		s.StalenessWindow != 10*time.Minute || s.IOTimeout != 3*time.Second {
		t.Fatalf("settings = %+v", s)
	}
	if cfg.StoreBackend != BackendPostgres || cfg.PairStateBackend != BackendMemory {
		t.Fatalf("backends = %s / %s", cfg.StoreBackend, cfg.PairStateBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("ALERT_COOLDOWN", "90s")
	t.Setenv("IO_TIMEOUT", "2")
	t.Setenv("NEARBY_THRESHOLD_METERS", "750.5")
	t.Setenv("CORS_ALLOW_ORIGINS", " https://a.example , ,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AlertCooldown != 90*time.Second || cfg.IOTimeout != 2*time.Second {
		t.Fatalf("durations = %v / %v", cfg.AlertCooldown, cfg.IOTimeout)
	}
	if cfg.NearbyThresholdMeters != 750.5 {
		t.Fatalf("nearby = %v", cfg.NearbyThresholdMeters)
	}
	if len(cfg.CORSAllowOrigins) != 2 || cfg.CORSAllowOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.CORSAllowOrigins)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			DatabaseURL:            "postgres://x",
			JWTSecret:              "s",
			StoreBackend:           BackendPostgres,
			PairStateBackend:       BackendMemory,
			NearbyThresholdMeters:  500,
			MeetingThresholdMeters: 50,
			AlertCooldown:          time.Minute,
			MeetingDuration:        time.Minute,
			StalenessWindow:        time.Minute,
			RecentWindow:           time.Minute,
			IOTimeout:              time.Second,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"memory without database", func(c *Config) { c.DatabaseURL = ""; c.StoreBackend = BackendMemory }, ""},
		{"postgres pairs on memory store", func(c *Config) {
			c.StoreBackend = BackendMemory
			c.PairStateBackend = BackendPostgres
		}, "PAIR_STATE_BACKEND"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "redis" }, "STORE_BACKEND"},
		{"no secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"inverted thresholds", func(c *Config) { c.MeetingThresholdMeters = 600 }, "thresholds"},
		{"zero cooldown", func(c *Config) { c.AlertCooldown = 0 }, "ALERT_COOLDOWN"},
	}
	for _, tt := range tests {
		c := base()
		tt.mutate(&c)
		err := c.Validate()
		switch {
		case tt.want == "" && err != nil:
			t.Errorf("%s: unexpected error %v", tt.name, err)
		case tt.want != "" && (err == nil || !strings.Contains(err.Error(), tt.want)):
			t.Errorf("%s: err = %v, want mention of %s", tt.name, err, tt.want)
		}
	}
}
