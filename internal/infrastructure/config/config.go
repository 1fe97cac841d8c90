package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Buffer size bounds for the recent-activity views.
const (
	MinBufferSize = 10
	MaxBufferSize = 1000
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	API       APIConfig       `yaml:"api" toml:"api"`
	Realtime  RealtimeConfig  `yaml:"realtime" toml:"realtime"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// ServerConfig holds the local console HTTP server configuration.
type ServerConfig struct {
	Port        string   `envconfig:"PORT" yaml:"port" toml:"port"`
	Host        string   `envconfig:"HOST" yaml:"host" toml:"host"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" yaml:"cors_origins" toml:"cors_origins"`
	UploadRoot  string   `envconfig:"UPLOAD_ROOT" yaml:"upload_root" toml:"upload_root"`
}

// APIConfig holds the platform REST API configuration.
type APIConfig struct {
	BaseURL           string        `envconfig:"API_BASE_URL" yaml:"base_url" toml:"base_url"`
	AdminPrefix       string        `envconfig:"ADMIN_PREFIX" yaml:"admin_prefix" toml:"admin_prefix"`
	Timeout           time.Duration `envconfig:"API_TIMEOUT" yaml:"timeout" toml:"timeout"`
	RetryMax          int           `envconfig:"API_RETRY_MAX" yaml:"retry_max" toml:"retry_max"`
	RequestsPerSecond float64       `envconfig:"API_RATE_LIMIT" yaml:"requests_per_second" toml:"requests_per_second"`
	DirectUploadLimit int64         `envconfig:"UPLOAD_DIRECT_LIMIT" yaml:"direct_upload_limit" toml:"direct_upload_limit"`
	ChunkSize         int64         `envconfig:"UPLOAD_CHUNK_SIZE" yaml:"chunk_size" toml:"chunk_size"`
}

// RealtimeConfig holds the WebSocket connection configuration.
type RealtimeConfig struct {
	URL                string        `envconfig:"WS_URL" yaml:"url" toml:"url"`
	BaseURL            string        `envconfig:"WS_BASE_URL" yaml:"base_url" toml:"base_url"`
	AccountID          string        `envconfig:"WS_ACCOUNT_ID" yaml:"account_id" toml:"account_id"`
	ReconnectBaseDelay time.Duration `envconfig:"WS_RECONNECT_DELAY" yaml:"reconnect_base_delay" toml:"reconnect_base_delay"`
	MaxAttempts        int           `envconfig:"WS_RECONNECT_MAX" yaml:"max_attempts" toml:"max_attempts"`
	HeartbeatInterval  time.Duration `envconfig:"WS_HEARTBEAT" yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	HandshakeTimeout   time.Duration `envconfig:"WS_HANDSHAKE_TIMEOUT" yaml:"handshake_timeout" toml:"handshake_timeout"`
	MessageLogSize     int           `envconfig:"WS_MESSAGE_LOG" yaml:"message_log_size" toml:"message_log_size"`
	BufferSize         int           `envconfig:"ACTIVITY_BUFFER_SIZE" yaml:"buffer_size" toml:"buffer_size"`
	Topics             []string      `envconfig:"WS_TOPICS" yaml:"topics" toml:"topics"`
	AuthFrame          bool          `envconfig:"WS_AUTH_FRAME" yaml:"auth_frame" toml:"auth_frame"`
	AutoConnect        bool          `envconfig:"WS_AUTO_CONNECT" yaml:"auto_connect" toml:"auto_connect"`
}

// SessionConfig holds login and token storage configuration.
type SessionConfig struct {
	Secret    string `envconfig:"TOKEN_SECRET" yaml:"secret" toml:"secret"`
	StorePath string `envconfig:"SESSION_STORE" yaml:"store_path" toml:"store_path"`
	Remember  bool   `envconfig:"SESSION_REMEMBER" yaml:"remember" toml:"remember"`
	Username  string `envconfig:"CONSOLE_USERNAME" yaml:"username" toml:"username"`
	Password  string `envconfig:"CONSOLE_PASSWORD" yaml:"-" toml:"-"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration for the console server.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// Load builds configuration from defaults, then the optional CONFIG_FILE,
// then environment variables. Later sources win.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "127.0.0.1",
		},
		API: APIConfig{
			BaseURL:           "http://localhost:8080/api",
			AdminPrefix:       "/admin",
			Timeout:           15 * time.Second,
			RetryMax:          2,
			DirectUploadLimit: 5 << 20,
			ChunkSize:         2 << 20,
		},
		Realtime: RealtimeConfig{
			BaseURL:            "ws://localhost:8080",
			ReconnectBaseDelay: 3 * time.Second,
			MaxAttempts:        5,
			HeartbeatInterval:  30 * time.Second,
			HandshakeTimeout:   10 * time.Second,
			MessageLogSize:     100,
			BufferSize:         100,
			Topics:             []string{"message_monitor", "contact_monitor", "alert", "system_status"},
			AutoConnect:        true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// loadFile overlays a YAML or TOML file onto cfg, chosen by extension.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Endpoint returns the WebSocket endpoint, preferring an explicit WS_URL over
// WS_BASE_URL + "/ws".
func (r RealtimeConfig) Endpoint() string {
	if r.URL != "" {
		return r.URL
	}
	return strings.TrimRight(r.BaseURL, "/") + "/ws"
}

// Endpoint returns the REST base including the admin prefix.
func (a APIConfig) Endpoint() string {
	base := strings.TrimRight(a.BaseURL, "/")
	prefix := strings.Trim(a.AdminPrefix, "/")
	if prefix == "" {
		return base
	}
	return base + "/" + prefix
}

// Address returns the console listen address.
func (s ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Validate reports every inconsistency in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("api base url: %w", err))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api timeout must be positive"))
	}
	if c.API.ChunkSize <= 0 {
		errs = append(errs, errors.New("upload chunk size must be positive"))
	}

	ws, err := url.Parse(c.Realtime.Endpoint())
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("ws url: %w", err))
	case ws.Scheme != "ws" && ws.Scheme != "wss":
		errs = append(errs, fmt.Errorf("ws url must use ws or wss scheme, got %q", ws.Scheme))
	}
	if c.Realtime.ReconnectBaseDelay <= 0 {
		errs = append(errs, errors.New("reconnect base delay must be positive"))
	}
	if c.Realtime.MaxAttempts < 1 {
		errs = append(errs, errors.New("reconnect max attempts must be at least 1"))
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	if c.Realtime.BufferSize < MinBufferSize || c.Realtime.BufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("buffer size must be between %d and %d", MinBufferSize, MaxBufferSize))
	}
	if c.Realtime.MessageLogSize < 1 {
		errs = append(errs, errors.New("message log size must be positive"))
	}

	if c.Session.Remember && c.Session.Secret == "" {
		errs = append(errs, errors.New("remembered sessions require TOKEN_SECRET"))
	}
	if c.Session.Remember && c.Session.StorePath == "" {
		errs = append(errs, errors.New("remembered sessions require SESSION_STORE"))
	}

	return errors.Join(errs...)
}
