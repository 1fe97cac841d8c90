// Package middleware provides the gin middleware of the console HTTP server.
//
// Middleware stack includes:
//   - RequestID: correlation ID per request, echoed in X-Request-ID
//   - AccessLog: one zap line per request
//   - CORS: cross-origin access for the browser UI
//   - RateLimit: per-IP token buckets with idle eviction
//
// Example Usage:
//
//	router.Use(middleware.RequestID())
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
