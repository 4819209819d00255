// Package config loads configuration structs from environment variables.
//
// Field values come from `env` struct tags, with optional defaults and
// required markers. A .env file in the working directory is loaded once,
// before the first parse, and silently skipped when absent.
//
// # Usage
//
//	type ManagerConfig struct {
//		Mode            string        `env:"DBCONN_MODE" envDefault:"per_connection"`
//		CleanupInterval time.Duration `env:"DBCONN_CLEANUP_INTERVAL" envDefault:"5m"`
//	}
//
//	var cfg ManagerConfig
//	if err := config.Load(&cfg); err != nil {
//		// handle error
//	}
//
// MustLoad panics instead of returning the error, for configuration the
// process cannot start without.
package config
