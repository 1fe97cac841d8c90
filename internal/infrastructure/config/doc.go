// Package config provides 12-factor configuration management for the console.
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file named by CONFIG_FILE, then environment variables.
//
// Configuration Sections:
//   - Server: local console HTTP server (port, host)
//   - API: platform REST API (base URL, admin prefix, timeouts, uploads)
//   - Realtime: WebSocket endpoint, reconnect policy, heartbeat, buffers
//   - Session: token vault secret and store
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting on the console server
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
//
// Environment Variables:
//   - PORT, HOST
//   - API_BASE_URL, ADMIN_PREFIX, API_TIMEOUT, API_RETRY_MAX, API_RATE_LIMIT
//   - WS_URL, WS_BASE_URL, WS_ACCOUNT_ID, WS_RECONNECT_DELAY, WS_RECONNECT_MAX,
//     WS_HEARTBEAT, WS_TOPICS, ACTIVITY_BUFFER_SIZE
//   - TOKEN_SECRET, SESSION_STORE, SESSION_REMEMBER
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
