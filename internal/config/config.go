// Package config loads runtime configuration from the environment, the
// ambient-stack approach SPEC_FULL.md §10.3 calls for in place of the
// teacher's hardcoded address/port constants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable setting the server needs at boot.
type Config struct {
	DatabaseURL         string
	Port                int
	APIKey              string
	SnapshotInterval    time.Duration
	DepthDefaultLevels  int
	SnapshotWorkerCount int
}

// Load reads configuration from the environment, applying built-in defaults
// for unset values (PORT 8080, SNAPSHOT_INTERVAL_SEC 5, DEPTH_DEFAULT_LEVELS
// 10, SNAPSHOT_WORKERS 4). DATABASE_URL is the only required setting.
func Load() (Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := Config{
		DatabaseURL:         dbURL,
		Port:                8080,
		APIKey:              os.Getenv("API_KEY"),
		SnapshotInterval:    5 * time.Second,
		DepthDefaultLevels:  10,
		SnapshotWorkerCount: 4,
	}

	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}
	if raw := os.Getenv("SNAPSHOT_INTERVAL_SEC"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SNAPSHOT_INTERVAL_SEC: %w", err)
		}
		cfg.SnapshotInterval = time.Duration(secs) * time.Second
	}
	if raw := os.Getenv("DEPTH_DEFAULT_LEVELS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DEPTH_DEFAULT_LEVELS: %w", err)
		}
		cfg.DepthDefaultLevels = n
	}
	if raw := os.Getenv("SNAPSHOT_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SNAPSHOT_WORKERS: %w", err)
		}
		cfg.SnapshotWorkerCount = n
	}

	return cfg, nil
}
