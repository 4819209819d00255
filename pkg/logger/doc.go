// Package logger creates configured slog.Logger instances for structured
// logging across the library.
//
// # Usage
//
//	log := logger.New(
//		logger.WithFormat(logger.FormatJSON),
//		logger.WithLevel(slog.LevelInfo),
//		logger.WithAttr(slog.String("component", "dbconn")),
//	)
//
//	manager := engine.NewManager(cfg, engine.WithLogger(log))
//
// Credentials never belong in log attributes: engines expose redacted URIs
// and caches log hashed fingerprints, so handlers configured here can ship
// records to aggregation systems without scrubbing.
package logger
