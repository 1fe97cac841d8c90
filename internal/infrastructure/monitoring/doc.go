/*
Package monitoring provides Prometheus metrics for the console.

# Overview

Metrics cover the three moving parts of the process: the real-time
WebSocket connection, the platform REST API client and the local console
HTTP server, plus the recent-activity buffers and user-visible notices.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "GET", "/users")
	// ... perform call ...
	timer.Stop("200")

A nil *Metrics is valid and records nothing.

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
