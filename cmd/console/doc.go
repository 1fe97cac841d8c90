// Package main is the entry point for the WhatsApp management console.
//
// The console signs in to the platform admin API, keeps one real-time
// WebSocket connection open while the session lasts, buffers recent
// monitoring activity and serves it over a local HTTP API.
//
// Configuration:
//   - Environment variables (API_BASE_URL, WS_URL, TOKEN_SECRET, ...)
//   - CONFIG_FILE pointing at a YAML or TOML file, overridden by the environment
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./console -port 8090
//
//	# Development mode (colored logs, debug level)
//	./console -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
