package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the chat server runtime parameters.
type Config struct {
	ServerAddress       string        `mapstructure:"server_address"`
	AdminAddress        string        `mapstructure:"admin_address"`
	DatabaseURL         string        `mapstructure:"database_url"`
	JWTSecret           string        `mapstructure:"jwt_secret"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	LogLevel            string        `mapstructure:"log_level"`
	ClientOrigin        string        `mapstructure:"client_origin"`
	DefaultChannel      string        `mapstructure:"default_channel"`
	HistoryLimit        int           `mapstructure:"history_limit"`
	SendBuffer          int           `mapstructure:"send_buffer"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

const (
	defaultServerAddress       = ":8080"
	defaultAdminAddress        = ":9090"
	defaultDatabaseURL         = "sqlite://data/messenger.db"
	defaultJWTSecret           = "your-secret-key"
	defaultTokenTTL            = 30 * 24 * time.Hour
	defaultLogLevel            = "info"
	defaultClientOrigin        = "http://localhost:5173"
	defaultChannel             = "general"
	defaultHistoryLimit        = 50
	defaultSendBuffer          = 256
	defaultShutdownGracePeriod = 10 * time.Second
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables (SERVER_ADDRESS, DATABASE_URL,
// JWT_SECRET, ...) override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("admin_address", defaultAdminAddress)
	v.SetDefault("database_url", defaultDatabaseURL)
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("token_ttl", defaultTokenTTL.String())
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("client_origin", defaultClientOrigin)
	v.SetDefault("default_channel", defaultChannel)
	v.SetDefault("history_limit", defaultHistoryLimit)
	v.SetDefault("send_buffer", defaultSendBuffer)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.ServerAddress == "" {
		cfg.ServerAddress = defaultServerAddress
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if strings.TrimSpace(cfg.DefaultChannel) == "" {
		cfg.DefaultChannel = defaultChannel
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.ShutdownGracePeriod <= 0 {
		cfg.ShutdownGracePeriod = defaultShutdownGracePeriod
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret must not be empty")
	}

	return &cfg, nil
}

// UsesDefaultSecret reports whether the signing secret was left at its
// development default.
func (c *Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// IsPostgres reports whether the database URL points at a postgres server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// CleanDatabasePath returns a clean filesystem path from a sqlite database URL.
// Postgres URLs are returned untouched.
func (c *Config) CleanDatabasePath() string {
	if c.IsPostgres() {
		return c.DatabaseURL
	}

	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
	if dbPath == ":memory:" || filepath.IsAbs(dbPath) {
		return dbPath
	}

	cwd, err := getwd()
	if err != nil {
		return dbPath
	}
	return filepath.Join(cwd, dbPath)
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present.
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}

// split out for testing.
var getwd = os.Getwd
