package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/timeledger_test")
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	t.Setenv("SESSION_SECRET", "test-session-secret")
	t.Setenv("GOOGLE_CLIENT_ID", "client-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
	t.Setenv("GOOGLE_REDIRECT_URL", "http://localhost:8080/auth/google/callback")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.SyncTickInterval != 24*time.Hour {
		t.Errorf("SyncTickInterval = %v, want 24h", cfg.SyncTickInterval)
	}
	if cfg.JobPollInterval != 5*time.Second {
		t.Errorf("JobPollInterval = %v, want 5s", cfg.JobPollInterval)
	}
	if cfg.MaxJobsPerTick != 10 {
		t.Errorf("MaxJobsPerTick = %d, want 10", cfg.MaxJobsPerTick)
	}
	if cfg.SyncFailureThreshold != 3 {
		t.Errorf("SyncFailureThreshold = %d, want 3", cfg.SyncFailureThreshold)
	}
	if cfg.StaleThreshold != 24*time.Hour {
		t.Errorf("StaleThreshold = %v, want 24h", cfg.StaleThreshold)
	}
	if cfg.JobLease != 10*time.Minute {
		t.Errorf("JobLease = %v, want 10m", cfg.JobLease)
	}
	if cfg.RoundingGrainMinutes != 15 || cfg.RoundingUpThresholdMinutes != 7 {
		t.Errorf("rounding = (%d, %d), want (15, 7)",
			cfg.RoundingGrainMinutes, cfg.RoundingUpThresholdMinutes)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("JOB_POLL_INTERVAL", "30s")
	t.Setenv("MAX_JOBS_PER_TICK", "3")
	t.Setenv("ROUNDING_GRAIN_MINUTES", "30")
	t.Setenv("ROUNDING_UP_THRESHOLD_MINUTES", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.JobPollInterval != 30*time.Second {
		t.Errorf("JobPollInterval = %v, want 30s", cfg.JobPollInterval)
	}
	if cfg.MaxJobsPerTick != 3 {
		t.Errorf("MaxJobsPerTick = %d, want 3", cfg.MaxJobsPerTick)
	}
	if cfg.RoundingGrainMinutes != 30 || cfg.RoundingUpThresholdMinutes != 10 {
		t.Errorf("rounding = (%d, %d), want (30, 10)",
			cfg.RoundingGrainMinutes, cfg.RoundingUpThresholdMinutes)
	}
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoadBadEncryptionKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", "too-short")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ENCRYPTION_KEY") {
		t.Errorf("expected ENCRYPTION_KEY error, got %v", err)
	}
}

func TestLoadRawKeyAccepted(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("k", 32))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Errorf("EncryptionKey length = %d, want 32", len(cfg.EncryptionKey))
	}
}

func TestLoadBadDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("STALE_THRESHOLD", "yesterday")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STALE_THRESHOLD") {
		t.Errorf("expected STALE_THRESHOLD error, got %v", err)
	}
}

func TestValidateRoundingThresholdAboveGrain(t *testing.T) {
	setRequired(t)
	t.Setenv("ROUNDING_GRAIN_MINUTES", "15")
	t.Setenv("ROUNDING_UP_THRESHOLD_MINUTES", "20")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ROUNDING_UP_THRESHOLD_MINUTES") {
		t.Errorf("expected rounding threshold error, got %v", err)
	}
}
