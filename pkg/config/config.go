package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// History source types.
const (
	HistoryNone     = ""
	HistoryHTTP     = "http"
	HistoryDir      = "dir"
	HistoryDatabase = "database"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	ADSB     ADSBConfig     `json:"adsb"`
	History  HistoryConfig  `json:"history"`
	Trace    TraceConfig    `json:"trace"`
	Auth     AuthConfig     `json:"auth"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	// Enabled determines if the database should be connected at all
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// ADSBConfig contains live ADS-B feed configuration.
type ADSBConfig struct {
	// Enabled determines if the live feed should be polled
	Enabled bool `json:"enabled"`

	// BaseURL is the airplanes.live API base URL
	BaseURL string `json:"base_url"`

	// Latitude/Longitude is the center of the polled area in decimal degrees
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// RadiusNM is the polled radius in nautical miles (max 250)
	RadiusNM float64 `json:"radius_nm"`

	// UpdateIntervalSeconds is how often to poll for aircraft
	UpdateIntervalSeconds int `json:"update_interval_seconds"`

	// RateLimitSeconds is the minimum time between API calls in seconds
	// airplanes.live: recommend 3 seconds to avoid 429 errors
	RateLimitSeconds float64 `json:"rate_limit_seconds"`
}

// HistoryConfig selects where historical chunks are loaded from at startup.
type HistoryConfig struct {
	// Source is "" (no history), "http", "dir" or "database"
	Source string `json:"source"`

	// BaseURL is the server root for the http source; chunks live under /chunks/
	BaseURL string `json:"base_url"`

	// Dir is the directory for the dir source
	Dir string `json:"dir"`

	// Chunks is how many chunks to request from the http source.
	// The dir and database sources count their own chunks when this is 0.
	Chunks int `json:"chunks"`

	// BucketSeconds is the chunk width for the database source
	BucketSeconds int `json:"bucket_seconds"`

	// LookbackMinutes is how far back the database source reads
	LookbackMinutes int `json:"lookback_minutes"`
}

// TraceConfig tunes the trace collector.
type TraceConfig struct {
	// StaleAfterSeconds is the idle time after which a trace is evicted (default: 300)
	StaleAfterSeconds float64 `json:"stale_after_seconds"`

	// CleanIntervalSeconds is how often stale traces are swept (default: 30)
	CleanIntervalSeconds int `json:"clean_interval_seconds"`

	// InboxSize is the collector message buffer (default: 1024)
	InboxSize int `json:"inbox_size"`
}

// AuthConfig guards the mutating HTTP endpoints.
type AuthConfig struct {
	// Enabled requires an operator token for DELETE and clean requests
	Enabled bool `json:"enabled"`

	// JWTSecret signs issued tokens (should be loaded from environment)
	JWTSecret string `json:"jwt_secret"`

	// PasswordHash is the bcrypt hash of the operator password
	PasswordHash string `json:"password_hash"`

	// TokenDurationHours is how long issued tokens remain valid (default: 24)
	TokenDurationHours int `json:"token_duration_hours"`
}

// LogConfig controls diagnostic output.
type LogConfig struct {
	// Level is debug, info, warn or error (default: info)
	Level string `json:"level"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
// Fields missing from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "adstrace",
			Username:     "adstrace",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 2,
		},
		ADSB: ADSBConfig{
			Enabled:               true,
			BaseURL:               "https://api.airplanes.live/v2",
			RadiusNM:              50.0,
			UpdateIntervalSeconds: 2,
			RateLimitSeconds:      3.0,
		},
		History: HistoryConfig{
			Source:          HistoryNone,
			BucketSeconds:   30,
			LookbackMinutes: 60,
		},
		Trace: TraceConfig{
			StaleAfterSeconds:    300,
			CleanIntervalSeconds: 30,
			InboxSize:            1024,
		},
		Auth: AuthConfig{
			Enabled:            false,
			TokenDurationHours: 24,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.History.Source {
	case HistoryNone:
	case HistoryHTTP:
		if c.History.BaseURL == "" {
			return errors.New("history.base_url is required for the http source")
		}
		if c.History.Chunks <= 0 {
			return errors.New("history.chunks must be positive for the http source")
		}
	case HistoryDir:
		if c.History.Dir == "" {
			return errors.New("history.dir is required for the dir source")
		}
	case HistoryDatabase:
		if !c.Database.Enabled {
			return errors.New("history source database requires database.enabled")
		}
		if c.History.BucketSeconds <= 0 {
			return errors.New("history.bucket_seconds must be positive")
		}
	default:
		return fmt.Errorf("unknown history source %q", c.History.Source)
	}

	if c.History.Chunks < 0 {
		return errors.New("history.chunks must not be negative")
	}
	if c.ADSB.UpdateIntervalSeconds <= 0 {
		return errors.New("adsb.update_interval_seconds must be positive")
	}
	if c.Trace.CleanIntervalSeconds <= 0 {
		return errors.New("trace.clean_interval_seconds must be positive")
	}
	if c.Trace.StaleAfterSeconds < 0 || c.Trace.InboxSize < 0 {
		return errors.New("trace settings must not be negative")
	}

	if c.Auth.Enabled && (c.Auth.JWTSecret == "" || c.Auth.PasswordHash == "") {
		return errors.New("auth requires jwt_secret and password_hash")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("ADS_TRACE_PORT"); port != "" {
		c.Server.Port = port
	}
	if dbPassword := os.Getenv("ADS_TRACE_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if secret := os.Getenv("ADS_TRACE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if baseURL := os.Getenv("ADS_TRACE_ADSB_URL"); baseURL != "" {
		c.ADSB.BaseURL = baseURL
	}
	if historyURL := os.Getenv("ADS_TRACE_HISTORY_URL"); historyURL != "" {
		c.History.BaseURL = historyURL
	}
	if chunks := os.Getenv("ADS_TRACE_HISTORY_CHUNKS"); chunks != "" {
		if n, err := strconv.Atoi(chunks); err == nil {
			c.History.Chunks = n
		}
	}
	if level := os.Getenv("ADS_TRACE_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}
