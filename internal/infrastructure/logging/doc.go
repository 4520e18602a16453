// Package logging provides structured logging for the playout core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the daemon and CLI.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service=playout-core, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	engineLog := logger.With("component", "engine")
//	engineLog.Info("take", "rundown_id", id)
//
// Never log secrets, tokens or passwords.
package logging
