package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("loaded config differs from defaults (-want +got):\n%s", diff)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
addr: ":9000"
broker:
  max_clients: 2
  ping_timeout: 10s
  origins: ["game.example.com"]
rooms:
  max_players_by_room: 4
  sync_mode: immediate
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ROOMBROKER_ROOMS_SYNC_MODE", "immediate-other")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Addr != ":9000" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.Broker.MaxClients != 2 {
		t.Errorf("max_clients = %d", cfg.Broker.MaxClients)
	}
	if cfg.Broker.PingTimeout != 10*time.Second {
		t.Errorf("ping_timeout = %v", cfg.Broker.PingTimeout)
	}
	if diff := cmp.Diff([]string{"game.example.com"}, cfg.Broker.Origins); diff != "" {
		t.Errorf("origins (-want +got):\n%s", diff)
	}
	if cfg.Rooms.MaxPlayersByRoom != 4 {
		t.Errorf("max_players_by_room = %d", cfg.Rooms.MaxPlayersByRoom)
	}
	if cfg.Rooms.SyncMode != "immediate-other" {
		t.Errorf("env should override file sync_mode, got %q", cfg.Rooms.SyncMode)
	}
	// untouched keys keep their defaults
	if !cfg.Rooms.AutoDeleteEmptyRoom || cfg.Broker.MaxInputSize != DefaultMaxInputSize {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"no clients", func(c *Config) { c.Broker.MaxClients = 0 }},
		{"no input", func(c *Config) { c.Broker.MaxInputSize = -1 }},
		{"no ping", func(c *Config) { c.Broker.PingTimeout = 0 }},
		{"no buffer", func(c *Config) { c.Broker.SendBuffer = 0 }},
		{"negative rate", func(c *Config) { c.Broker.RateLimit.Burst = -1 }},
		{"no players", func(c *Config) { c.Rooms.MaxPlayersByRoom = 0 }},
		{"unknown sync mode", func(c *Config) { c.Rooms.SyncMode = "sometimes" }},
	}

	base := Default()
	if err := base.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
