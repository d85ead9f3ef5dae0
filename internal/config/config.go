// Package config loads and persists the makeparallel daemon
// configuration from $MAKEPARALLEL_HOME/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Runtime RuntimeConfig `toml:"runtime"`
	History HistoryConfig `toml:"history"`
	API     APIConfig     `toml:"api"`
	Logging LoggingConfig `toml:"logging"`
}

// RuntimeConfig controls the task runtime.
type RuntimeConfig struct {
	Workers             int     `toml:"workers"` // 0 = auto (NumCPU)
	MaxConcurrent       int     `toml:"max_concurrent"`
	MemoryLimitPercent  float64 `toml:"memory_limit_percent"` // 0 = disabled
	ShutdownTimeoutSecs int     `toml:"shutdown_timeout_secs"`
	StartPriorityWorker bool    `toml:"start_priority_worker"`
}

// HistoryConfig controls task-history persistence.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // "json" or "console"
	File      string `toml:"file"`   // empty = stdout only
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// Default returns a sensible default configuration.
func Default() Config {
	homeDir := Home()
	return Config{
		Runtime: RuntimeConfig{
			Workers:             0, // auto
			MaxConcurrent:       0, // unlimited
			MemoryLimitPercent:  0, // disabled
			ShutdownTimeoutSecs: 30,
			StartPriorityWorker: true,
		},
		History: HistoryConfig{
			Enabled: true,
			Dir:     filepath.Join(homeDir, "data"),
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8787,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "console",
			File:      filepath.Join(homeDir, "makeparallel.log"),
			MaxSizeMB: 50,
			MaxFiles:  5,
		},
	}
}

// Load reads config from $MAKEPARALLEL_HOME/config.toml, falling back
// to defaults when the file does not exist.
func Load() (Config, error) {
	cfg := Default()
	path := filepath.Join(Home(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return applyAuto(cfg), nil // No config file yet; use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return applyAuto(cfg), nil
}

// Save writes the config to $MAKEPARALLEL_HOME/config.toml.
func Save(cfg Config) error {
	path := filepath.Join(Home(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// applyAuto resolves auto-detected values.
func applyAuto(cfg Config) Config {
	if cfg.Runtime.Workers <= 0 {
		cfg.Runtime.Workers = max(1, runtime.NumCPU())
	}
	return cfg
}

// Home returns the makeparallel data directory.
func Home() string {
	if env := os.Getenv("MAKEPARALLEL_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".makeparallel")
}
