// Package logging provides structured logging for mbn-addressd.
//
// It wraps log/slog so every component logs with the same handler,
// level filtering and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	engineLog := logger.With("component", "engine")
//	engineLog.Info("address allocated", "address", "00010003")
package logging
