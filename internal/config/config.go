// Package config loads service configuration from the environment.
//
// Every knob has a default except the secrets (database URL, encryption
// key, session secret, provider credentials), which must be present.
// Load reads, parses, and validates in one pass; a Config that comes
// back without error is usable as-is.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	// Storage and secrets.
	DatabaseURL   string
	EncryptionKey []byte // 32 bytes, AES-256-GCM
	SessionSecret []byte

	// Calendar provider OAuth app.
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// HTTP.
	ListenAddr string
	BaseURL    string

	// Sync engine.
	SyncTickInterval     time.Duration // background staleness sweep
	JobPollInterval      time.Duration // worker queue poll
	MaxJobsPerTick       int
	SyncFailureThreshold int
	StaleThreshold       time.Duration
	JobLease             time.Duration

	// Time entry rounding.
	RoundingGrainMinutes       int
	RoundingUpThresholdMinutes int
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		ListenAddr:         getString("LISTEN_ADDR", ":8080"),
		BaseURL:            getString("BASE_URL", "http://localhost:8080"),
	}

	var err error
	if cfg.EncryptionKey, err = getKey("ENCRYPTION_KEY"); err != nil {
		return nil, err
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.SessionSecret = []byte(secret)
	}

	if cfg.SyncTickInterval, err = getDuration("SYNC_TICK_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JobPollInterval, err = getDuration("JOB_POLL_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxJobsPerTick, err = getInt("MAX_JOBS_PER_TICK", 10); err != nil {
		return nil, err
	}
	if cfg.SyncFailureThreshold, err = getInt("SYNC_FAILURE_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.StaleThreshold, err = getDuration("STALE_THRESHOLD", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.JobLease, err = getDuration("JOB_LEASE", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RoundingGrainMinutes, err = getInt("ROUNDING_GRAIN_MINUTES", 15); err != nil {
		return nil, err
	}
	if cfg.RoundingUpThresholdMinutes, err = getInt("ROUNDING_UP_THRESHOLD_MINUTES", 7); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and ranges are sane.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(c.EncryptionKey))
	}
	if len(c.SessionSecret) == 0 {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if c.GoogleRedirectURL == "" {
		return fmt.Errorf("GOOGLE_REDIRECT_URL is required")
	}
	if c.SyncFailureThreshold < 1 {
		return fmt.Errorf("SYNC_FAILURE_THRESHOLD must be >= 1, got %d", c.SyncFailureThreshold)
	}
	if c.MaxJobsPerTick < 1 {
		return fmt.Errorf("MAX_JOBS_PER_TICK must be >= 1, got %d", c.MaxJobsPerTick)
	}
	if c.RoundingGrainMinutes < 1 || c.RoundingGrainMinutes > 60 {
		return fmt.Errorf("ROUNDING_GRAIN_MINUTES must be in [1,60], got %d", c.RoundingGrainMinutes)
	}
	if c.RoundingUpThresholdMinutes < 1 || c.RoundingUpThresholdMinutes > c.RoundingGrainMinutes {
		return fmt.Errorf("ROUNDING_UP_THRESHOLD_MINUTES must be in [1,%d], got %d",
			c.RoundingGrainMinutes, c.RoundingUpThresholdMinutes)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// getKey decodes a base64 key from the environment. A raw 32-byte string
// is accepted as well so local development does not require base64.
func getKey(key string) ([]byte, error) {
	v := os.Getenv(key)
	if v == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	if decoded, err := base64.StdEncoding.DecodeString(v); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(v) == 32 {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("%s must be a base64-encoded or raw 32-byte key", key)
}
