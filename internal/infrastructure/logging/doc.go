// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for log shippers
//   - Development: colored console output
//
// Components take a named child logger so every line carries its origin:
//
//	logger := logging.NewDefault()
//	rt := logger.Component("realtime")
//	rt.Info("connected", zap.String("url", url))
package logging
