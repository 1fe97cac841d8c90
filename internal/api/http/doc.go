// Package http exposes the console over a local gin HTTP API.
//
// Routes drive the realtime connection, read the activity buffers and
// notifications, manage the operator session and forward a few calls to the
// platform admin API. Failures come back as JSON {"error": "..."} with a status
// derived from the underlying error.
package http
