// Package config loads runtime configuration for the tourkeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file (see parseFile) selected via -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the remote gRPC endpoint
//	-i int      online status check interval (seconds)
//	-d string   local database file
//	-w string   websocket notification address, empty disables it
//	-l string   log file
//	-s string   shared secret used to sign access tokens
//	-m int      attempts before an operation is parked as failed
//	-k          coalesce queued updates of the same show
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	server_endpoint_addr: 127.0.0.1:50051
//	online_check_interval: 3s
//	database_path: tourkeeper.db
//	notify_addr: 127.0.0.1:8765
//	max_retries: 3
//	coalesce_updates: true
//	event_log_capacity: 100
//	apply_timeout: 10s
//
// Note: This package does not read environment variables directly.
package config
