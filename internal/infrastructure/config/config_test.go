package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Empty(t, cfg.Server.UploadRoot)

	assert.Equal(t, "http://localhost:8080/api", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)

	assert.Equal(t, 3*time.Second, cfg.Realtime.ReconnectBaseDelay)
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 100, cfg.Realtime.BufferSize)
	assert.Contains(t, cfg.Realtime.Topics, "message_monitor")

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	require.NotNil(t, cfg)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":               "9000",
		"HOST":               "0.0.0.0",
		"API_BASE_URL":       "https://admin.example.com/api",
		"ADMIN_PREFIX":       "/v2/admin",
		"API_TIMEOUT":        "30s",
		"WS_URL":             "wss://admin.example.com/ws",
		"WS_ACCOUNT_ID":      "acc-42",
		"WS_RECONNECT_DELAY": "1s",
		"WS_RECONNECT_MAX":   "3",
		"WS_HEARTBEAT":       "10s",
		"WS_TOPICS":          "alert,system_status",
		"LOG_LEVEL":          "debug",
		"LOG_DEV":            "true",
		"RATE_LIMIT_ENABLED": "false",
		"CORS_ORIGINS":       "http://localhost:5173",
		"UPLOAD_ROOT":        "/srv/uploads",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "https://admin.example.com/api/v2/admin", cfg.API.Endpoint())
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, "wss://admin.example.com/ws", cfg.Realtime.Endpoint())
	assert.Equal(t, "acc-42", cfg.Realtime.AccountID)
	assert.Equal(t, time.Second, cfg.Realtime.ReconnectBaseDelay)
	assert.Equal(t, 3, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, []string{"alert", "system_status"}, cfg.Realtime.Topics)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/srv/uploads", cfg.Server.UploadRoot)
}

func TestLoadWithPartialEnvironmentVariables(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.True(t, cfg.Realtime.AutoConnect)
}

func TestLoadInvalidEnvironmentValue(t *testing.T) {
	t.Setenv("WS_RECONNECT_MAX", "many")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
}

func TestRealtimeEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  RealtimeConfig
		want string
	}{
		{
			name: "explicit url wins",
			cfg:  RealtimeConfig{URL: "wss://a.example/ws", BaseURL: "ws://b.example"},
			want: "wss://a.example/ws",
		},
		{
			name: "derived from base",
			cfg:  RealtimeConfig{BaseURL: "ws://b.example/"},
			want: "ws://b.example/ws",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Endpoint())
		})
	}
}

func TestAPIEndpoint(t *testing.T) {
	tests := []struct {
		base   string
		prefix string
		want   string
	}{
		{base: "http://h/api", prefix: "/admin", want: "http://h/api/admin"},
		{base: "http://h/api/", prefix: "admin/", want: "http://h/api/admin"},
		{base: "http://h/api", prefix: "", want: "http://h/api"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, APIConfig{BaseURL: tt.base, AdminPrefix: tt.prefix}.Endpoint())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.yaml")
	content := `
server:
  port: "7000"
api:
  base_url: https://yaml.example.com/api
realtime:
  base_url: wss://yaml.example.com
  max_attempts: 8
  buffer_size: 250
  topics:
    - alert
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "https://yaml.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "wss://yaml.example.com/ws", cfg.Realtime.Endpoint())
	assert.Equal(t, 8, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 250, cfg.Realtime.BufferSize)
	assert.Equal(t, []string{"alert"}, cfg.Realtime.Topics)
	// environment overrides the file
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
}

func TestLoadTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.toml")
	content := `
[server]
host = "0.0.0.0"

[rate_limit]
requests_per_second = 5
burst = 10
enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "console.ini")
		require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
		t.Setenv("CONFIG_FILE", path)
		_, err := Load()
		assert.ErrorContains(t, err, "unsupported")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad ws scheme",
			mutate:  func(c *Config) { c.Realtime.URL = "http://host/ws" },
			wantErr: "ws or wss",
		},
		{
			name:    "buffer too small",
			mutate:  func(c *Config) { c.Realtime.BufferSize = 5 },
			wantErr: "buffer size",
		},
		{
			name:    "buffer too large",
			mutate:  func(c *Config) { c.Realtime.BufferSize = 5000 },
			wantErr: "buffer size",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Realtime.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name:    "remember without secret",
			mutate:  func(c *Config) { c.Session.Remember = true; c.Session.StorePath = "/tmp/s" },
			wantErr: "TOKEN_SECRET",
		},
		{
			name:    "bad api url",
			mutate:  func(c *Config) { c.API.BaseURL = "not a url" },
			wantErr: "api base url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
