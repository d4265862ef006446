package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"RTACH_SOCKET_PATH",
		"RTACH_SCROLLBACK_BYTES",
		"RTACH_IDLE_INTERVAL_MS",
		"RTACH_LOG_LEVEL",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ScrollbackBytes != DefaultScrollbackBytes {
		t.Errorf("ScrollbackBytes = %d, want %d", cfg.ScrollbackBytes, DefaultScrollbackBytes)
	}
	if cfg.IdleInterval != DefaultIdleInterval {
		t.Errorf("IdleInterval = %v, want %v", cfg.IdleInterval, DefaultIdleInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("RTACH_SOCKET_PATH", "/tmp/custom.sock")
	os.Setenv("RTACH_SCROLLBACK_BYTES", "2048")
	os.Setenv("RTACH_IDLE_INTERVAL_MS", "500")
	os.Setenv("RTACH_LOG_LEVEL", "debug")

	cfg, warnings := Load()
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("SocketPath = %q", cfg.SocketPath)
	}
	if cfg.ScrollbackBytes != 2048 {
		t.Errorf("ScrollbackBytes = %d", cfg.ScrollbackBytes)
	}
	if cfg.IdleInterval != 500*time.Millisecond {
		t.Errorf("IdleInterval = %v", cfg.IdleInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadIgnoresInvalidNumericOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("RTACH_SCROLLBACK_BYTES", "not-a-number")
	os.Setenv("RTACH_IDLE_INTERVAL_MS", "-5")

	cfg, warnings := Load()
	if len(warnings) != 2 {
		t.Fatalf("warnings = %v, want 2 entries", warnings)
	}
	if cfg.ScrollbackBytes != DefaultScrollbackBytes {
		t.Errorf("ScrollbackBytes = %d, want default", cfg.ScrollbackBytes)
	}
	if cfg.IdleInterval != DefaultIdleInterval {
		t.Errorf("IdleInterval = %v, want default", cfg.IdleInterval)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{SocketPath: "/var/run/rtach/session1.sock"}
	if got := cfg.FIFOPath(); got != "/var/run/rtach/session1.sock.cmd" {
		t.Errorf("FIFOPath() = %q", got)
	}
	if got := cfg.LogPath(); got != "/var/run/rtach/session1.sock.log" {
		t.Errorf("LogPath() = %q", got)
	}
	if got := cfg.TitlePath(); got != "/var/run/rtach/session1.sock.title" {
		t.Errorf("TitlePath() = %q", got)
	}
}
