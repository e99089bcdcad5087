// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for all store, protocol, and server
// settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"time"
)

// =============================================================================
// STORE CONFIGURATION
// =============================================================================

// StoreConfig controls the snapshot store's table and arena sizing.
type StoreConfig struct {
	BufSize         int // Main arena size in bytes
	MaxEntries      int // Entry table capacity
	MaxSpawns       int // Spawn table capacity
	MaxVariableSize int // Scratch buffer bound for encoding a single variable
}

// DefaultStore returns the protocol's recommended default limits.
func DefaultStore() StoreConfig {
	return StoreConfig{
		BufSize:         30000,
		MaxEntries:      2000,
		MaxSpawns:       100,
		MaxVariableSize: 4096,
	}
}

// StoreFromEnv returns store configuration with environment variable overrides.
func StoreFromEnv() StoreConfig {
	cfg := DefaultStore()

	if v := getEnvInt("SNAPSHOT_BUF_SIZE", 0); v > 0 {
		cfg.BufSize = v
	}
	if v := getEnvInt("SNAPSHOT_MAX_ENTRIES", 0); v > 0 {
		cfg.MaxEntries = v
	}
	if v := getEnvInt("SNAPSHOT_MAX_SPAWNS", 0); v > 0 {
		cfg.MaxSpawns = v
	}
	if v := getEnvInt("SNAPSHOT_MAX_VARIABLE_SIZE", 0); v > 0 {
		cfg.MaxVariableSize = v
	}

	return cfg
}

// =============================================================================
// PROTOCOL CONFIGURATION
// =============================================================================

// ProtocolConfig controls the tick hook's feature toggles, tick rate, and
// the ack-reconciliation pruning window.
type ProtocolConfig struct {
	UseSnapshotDelta bool          // USE_SNAPSHOT_DELTA
	UseSnapshotSpawn bool          // USE_SNAPSHOT_SPAWN
	TickRate         time.Duration // how often System.Tick is driven
	AckWindow        int           // sent-spawn pruning window, in sequence numbers; only logged, pruning uses netstate.AckWindow
}

// DefaultProtocol returns the protocol's recommended defaults. Both
// snapshot features are on; a 20Hz tick rate matches the protocol's
// worked examples; the ack window matches netstate.AckWindow.
func DefaultProtocol() ProtocolConfig {
	return ProtocolConfig{
		UseSnapshotDelta: true,
		UseSnapshotSpawn: true,
		TickRate:         50 * time.Millisecond,
		AckWindow:        256,
	}
}

// ProtocolFromEnv returns protocol configuration with environment variable overrides.
func ProtocolFromEnv() ProtocolConfig {
	cfg := DefaultProtocol()

	if os.Getenv("USE_SNAPSHOT_DELTA") == "false" {
		cfg.UseSnapshotDelta = false
	}
	if os.Getenv("USE_SNAPSHOT_SPAWN") == "false" {
		cfg.UseSnapshotSpawn = false
	}
	if v := getEnvInt("SNAPSHOT_TICK_RATE_MS", 0); v > 0 {
		cfg.TickRate = time.Duration(v) * time.Millisecond
	}
	if v := getEnvInt("SNAPSHOT_ACK_WINDOW", 0); v > 0 {
		cfg.AckWindow = v
	}

	return cfg
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds the transport and admin server bind addresses.
type ServerConfig struct {
	ListenAddr string // WebSocket transport bind address
	AdminAddr  string // Admin API bind address (health/metrics/pprof/stats)
}

// DefaultServer returns default bind addresses. The admin address is
// localhost-only by construction.
func DefaultServer() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		AdminAddr:  "127.0.0.1:6060",
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ADMIN_ADDR"); v != "" {
		if os.Getenv("ALLOW_ADMIN_EXTERNAL") != "true" {
			cfg.AdminAddr = "127.0.0.1:6060"
		} else {
			cfg.AdminAddr = v
		}
	}

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Store    StoreConfig
	Protocol ProtocolConfig
	Server   ServerConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Store:    StoreFromEnv(),
		Protocol: ProtocolFromEnv(),
		Server:   ServerFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
