// Package daemon wires the core scheduler, HTTP API, and health checker
// into one process with config loading and graceful shutdown.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Pool      PoolConfig      `toml:"pool"`
	Models    ModelsConfig    `toml:"models"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// NodeConfig identifies this device.
type NodeConfig struct {
	ID       string `toml:"id"`
	DeviceID int    `toml:"device_id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// PoolConfig controls the shared priority thread pool and its autoscaler.
type PoolConfig struct {
	Workers         int `toml:"workers"`
	MinWorkers      int `toml:"min_workers"`
	MaxWorkers      int `toml:"max_workers"`
	GrowThreshold   int `toml:"grow_threshold"`
	ShrinkThreshold int `toml:"shrink_threshold"`
}

// ModelsConfig controls the model cache.
type ModelsConfig struct {
	CacheLimit int `toml:"cache_limit"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls observability.
type TelemetryConfig struct {
	Prometheus     bool `toml:"prometheus"`
	HealthInterval int  `toml:"health_interval_seconds"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := tutuHome()
	workers := max(1, runtime.NumCPU()-1)
	return Config{
		Node: NodeConfig{DeviceID: 0},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Pool: PoolConfig{
			Workers:         workers,
			MinWorkers:      1,
			MaxWorkers:      workers * 4,
			GrowThreshold:   4,
			ShrinkThreshold: 1,
		},
		Models: ModelsConfig{CacheLimit: 10},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(home, "tutu-infer.log"),
		},
		Telemetry: TelemetryConfig{
			Prometheus:     true,
			HealthInterval: 10,
		},
	}
}

// LoadConfig reads config from ~/.tutu-infer/config.toml, falling back to
// defaults when the file doesn't exist.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(tutuHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to ~/.tutu-infer/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(tutuHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func tutuHome() string {
	if env := os.Getenv("TUTU_INFER_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tutu-infer")
}
