package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddress != defaultServerAddress {
		t.Fatalf("expected default server address %s, got %s", defaultServerAddress, cfg.ServerAddress)
	}
	if cfg.DefaultChannel != "general" {
		t.Fatalf("expected default channel general, got %s", cfg.DefaultChannel)
	}
	if cfg.HistoryLimit != 50 {
		t.Fatalf("expected history limit 50, got %d", cfg.HistoryLimit)
	}
	if cfg.TokenTTL != defaultTokenTTL {
		t.Fatalf("expected token ttl %s, got %s", defaultTokenTTL, cfg.TokenTTL)
	}
	if cfg.ShutdownGracePeriod != defaultShutdownGracePeriod {
		t.Fatalf("expected default grace %s, got %s", defaultShutdownGracePeriod, cfg.ShutdownGracePeriod)
	}
	if !cfg.UsesDefaultSecret() {
		t.Fatal("expected the development secret to be reported")
	}
}

func TestLoadWithFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(`
server_address: "127.0.0.1:7001"
log_level: "debug"
token_ttl: "2h"
default_channel: "lobby"
history_limit: 20
`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("SERVER_ADDRESS", ":6000")
	t.Setenv("JWT_SECRET", "hunter2")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServerAddress != ":6000" {
		t.Fatalf("expected env override for server address, got %s", cfg.ServerAddress)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("expected token ttl 2h, got %s", cfg.TokenTTL)
	}
	if cfg.DefaultChannel != "lobby" {
		t.Fatalf("expected channel from file, got %s", cfg.DefaultChannel)
	}
	if cfg.HistoryLimit != 20 {
		t.Fatalf("expected history limit 20, got %d", cfg.HistoryLimit)
	}
	if cfg.JWTSecret != "hunter2" || cfg.UsesDefaultSecret() {
		t.Fatalf("expected secret from env, got %s", cfg.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestCleanDatabasePath(t *testing.T) {
	t.Cleanup(func() { getwd = os.Getwd })
	getwd = func() (string, error) { return "/srv/chat", nil }

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "relative sqlite url", url: "sqlite://data/messenger.db", want: "/srv/chat/data/messenger.db"},
		{name: "absolute sqlite url", url: "sqlite:///var/lib/chat.db", want: "/var/lib/chat.db"},
		{name: "bare path", url: "chat.db", want: "/srv/chat/chat.db"},
		{name: "memory", url: "sqlite://:memory:", want: ":memory:"},
		{name: "postgres", url: "postgres://u:p@db:5432/chat", want: "postgres://u:p@db:5432/chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DatabaseURL: tt.url}
			if got := cfg.CleanDatabasePath(); got != tt.want {
				t.Errorf("CleanDatabasePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUpdateDatabasePath(t *testing.T) {
	cfg := &Config{DatabaseURL: "sqlite://data/messenger.db"}
	cfg.UpdateDatabasePath("/tmp/loadtest.db")
	if cfg.DatabaseURL != "sqlite:///tmp/loadtest.db" {
		t.Fatalf("expected prefix kept, got %s", cfg.DatabaseURL)
	}

	cfg = &Config{DatabaseURL: "data/messenger.db"}
	cfg.UpdateDatabasePath("/tmp/loadtest.db")
	if cfg.DatabaseURL != "/tmp/loadtest.db" {
		t.Fatalf("expected bare path, got %s", cfg.DatabaseURL)
	}
}
