// Package config is the static configuration for openchromed: pool sizing,
// profile/launcher options, session TTLs, and the ambient logging/metrics/
// RPC knobs, loaded from YAML or JSON and defaulted the way the teacher's
// internal/config.Config is (LoadFromFile -> ApplyDefaults -> ComputeDerived).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Profile  ProfileConfig  `yaml:"profile" json:"profile"`
	Launcher LauncherConfig `yaml:"launcher" json:"launcher"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	RPC      RPCConfig      `yaml:"rpc" json:"rpc"`
}

// PoolConfig mirrors tabpool.Config (spec §4.5 defaults).
type PoolConfig struct {
	MinSize           int           `yaml:"min_size" json:"min_size"`
	MaxSize           int           `yaml:"max_size" json:"max_size"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaintenanceWindow time.Duration `yaml:"maintenance_window" json:"maintenance_window"`
	PreWarm           bool          `yaml:"prewarm" json:"prewarm"`
}

// ProfileConfig mirrors profile.Options (spec §4.2).
type ProfileConfig struct {
	ExplicitDir    string `yaml:"explicit_dir" json:"explicit_dir"`
	ForceTemp      bool   `yaml:"force_temp" json:"force_temp"`
	HeadlessShell  bool   `yaml:"headless_shell" json:"headless_shell"`
	RealProfileDir string `yaml:"real_profile_dir" json:"real_profile_dir"`
}

// LauncherConfig mirrors launcher.Options (spec §4.1).
type LauncherConfig struct {
	Headless   bool   `yaml:"headless" json:"headless"`
	DebugPort  int    `yaml:"debug_port" json:"debug_port"`
	RemoteURL  string `yaml:"remote_url" json:"remote_url"`
	ChromePath string `yaml:"chrome_path" json:"chrome_path"`
}

// SessionConfig controls session lifetime (spec §4.11).
type SessionConfig struct {
	DefaultTTL    time.Duration `yaml:"default_ttl" json:"default_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// StorageConfig controls the storage-state watchdog (spec §4.12).
type StorageConfig struct {
	WatchdogInterval time.Duration `yaml:"watchdog_interval" json:"watchdog_interval"`
}

// LogConfig is passed through to logger.Config.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// RPCConfig controls the request server (spec §5/§6).
type RPCConfig struct {
	ListenAddr     string  `yaml:"listen_addr" json:"listen_addr"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
}

// LoadFromFile reads path (YAML unless its extension is .json), applies
// defaults, and computes derived fields.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse YAML: %w", err)
		}
	}

	cfg.ApplyDefaults()
	cfg.ComputeDerived()
	return &cfg, nil
}

// LoadFromEnv overlays OPENCHROME_-prefixed environment variables onto cfg,
// for the handful of knobs operators most often need to flip without
// editing the config file.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("OPENCHROME_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Launcher.Headless = b
		}
	}
	if v := os.Getenv("OPENCHROME_DEBUG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Launcher.DebugPort = n
		}
	}
	if v := os.Getenv("OPENCHROME_REMOTE_URL"); v != "" {
		c.Launcher.RemoteURL = v
	}
	if v := os.Getenv("OPENCHROME_RPC_LISTEN_ADDR"); v != "" {
		c.RPC.ListenAddr = v
	}
	if v := os.Getenv("OPENCHROME_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// ApplyDefaults fills in zero-valued fields with the spec's stated
// defaults, clamping pool sizing the way tabpool.Config itself would.
func (c *Config) ApplyDefaults() {
	if c.Pool.MinSize <= 0 {
		c.Pool.MinSize = 2
	}
	if c.Pool.MaxSize <= 0 {
		c.Pool.MaxSize = 10
	}
	if c.Pool.MinSize > c.Pool.MaxSize {
		c.Pool.MinSize = c.Pool.MaxSize
	}
	if c.Pool.IdleTimeout <= 0 {
		c.Pool.IdleTimeout = 300 * time.Second
	}
	if c.Pool.MaintenanceWindow <= 0 {
		c.Pool.MaintenanceWindow = 30 * time.Second
	}

	if c.Session.DefaultTTL <= 0 {
		c.Session.DefaultTTL = 30 * time.Minute
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = time.Minute
	}

	if c.Storage.WatchdogInterval <= 0 {
		c.Storage.WatchdogInterval = 30 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}

	if c.RPC.ListenAddr == "" {
		c.RPC.ListenAddr = ":8765"
	}
	if c.RPC.RateLimitRPS <= 0 {
		c.RPC.RateLimitRPS = 20
	}
}

// ComputeDerived fills in fields whose defaults depend on other fields
// already having been applied.
func (c *Config) ComputeDerived() {
	if c.RPC.RateLimitBurst <= 0 {
		// A one-second burst at the steady-state rate, floored so a very
		// low configured rate still allows at least a couple of requests
		// through before throttling kicks in.
		c.RPC.RateLimitBurst = int(c.RPC.RateLimitRPS)
		if c.RPC.RateLimitBurst < 2 {
			c.RPC.RateLimitBurst = 2
		}
	}
}
