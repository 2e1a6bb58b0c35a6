package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "LOCK_TIMEOUT", "LOCK_MAX_HOLD", "DISABLE_WATCHER", "REDIS_URL", "INSTANCE_ID"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "3001" {
		t.Errorf("Expected port 3001, got %s", cfg.Port)
	}
	if cfg.LockTimeout != 30*time.Second {
		t.Errorf("Expected lock timeout 30s, got %v", cfg.LockTimeout)
	}
	if cfg.LockMaxHold != 15*time.Minute {
		t.Errorf("Expected lock max hold 15m, got %v", cfg.LockMaxHold)
	}
	if cfg.DisableWatcher {
		t.Error("Expected watcher to be enabled by default")
	}
	if cfg.RedisURL != "" {
		t.Errorf("Expected relay disabled by default, got %q", cfg.RedisURL)
	}
	if cfg.InstanceID == "" {
		t.Error("Expected a generated instance id")
	}
}

func TestDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"12", 12 * time.Second},
		{"garbage", time.Minute},
	}

	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getDurationEnv("TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("getDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestBoolAndIntEnv(t *testing.T) {
	t.Setenv("DISABLE_WATCHER", "true")
	t.Setenv("WS_MESSAGE_RATE", "7")
	t.Setenv("PARSE_WORKERS", "nope")

	cfg := Load()
	if !cfg.DisableWatcher {
		t.Error("Expected DISABLE_WATCHER=true to be honored")
	}
	if cfg.WSMessageRate != 7 {
		t.Errorf("Expected rate 7, got %d", cfg.WSMessageRate)
	}
	if cfg.ParseWorkers <= 0 {
		t.Errorf("Expected fallback worker count, got %d", cfg.ParseWorkers)
	}
}
