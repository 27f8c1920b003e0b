// Package config loads graphcache settings from a YAML file and GRAPHCACHE_*
// environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hanpama/graphcache/internal/taskqueue"
)

type Config struct {
	GC       GCConfig       `yaml:"gc"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Server   ServerConfig   `yaml:"server"`
	Network  NetworkConfig  `yaml:"network"`
	Otel     OtelConfig     `yaml:"otel"`
	Log      LogConfig      `yaml:"log"`
}

type GCConfig struct {
	// StepLength is the number of records visited per collection task. A
	// negative value collects in one task.
	StepLength int `yaml:"step_length"`
	// Scheduler is one of sync, goroutine or timer.
	Scheduler string        `yaml:"scheduler"`
	Interval  time.Duration `yaml:"interval"`
}

type SnapshotConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr    string        `yaml:"addr"`
	Pretty  bool          `yaml:"pretty"`
	Timeout time.Duration `yaml:"timeout"`
}

// NetworkConfig points the cache at the GraphQL server it fetches from.
type NetworkConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxConns  int           `yaml:"max_conns"`
}

type OtelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used when neither the file nor the
// environment set a value.
func Default() *Config {
	return &Config{
		GC: GCConfig{
			StepLength: 1000,
			Scheduler:  "sync",
			Interval:   10 * time.Millisecond,
		},
		Snapshot: SnapshotConfig{Path: "./graphcache-data"},
		Server: ServerConfig{
			Addr:    ":8080",
			Timeout: 10 * time.Second,
		},
		Network: NetworkConfig{
			Timeout:  10 * time.Second,
			MaxConns: 2,
		},
		Otel: OtelConfig{Service: "graphcache"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.GC.StepLength = getEnvInt("GRAPHCACHE_GC_STEP_LENGTH", c.GC.StepLength)
	c.GC.Scheduler = getEnv("GRAPHCACHE_GC_SCHEDULER", c.GC.Scheduler)
	c.GC.Interval = getEnvDuration("GRAPHCACHE_GC_INTERVAL", c.GC.Interval)
	c.Snapshot.Path = getEnv("GRAPHCACHE_SNAPSHOT_PATH", c.Snapshot.Path)
	c.Server.Addr = getEnv("GRAPHCACHE_SERVER_ADDR", c.Server.Addr)
	c.Server.Pretty = getEnvBool("GRAPHCACHE_SERVER_PRETTY", c.Server.Pretty)
	c.Server.Timeout = getEnvDuration("GRAPHCACHE_SERVER_TIMEOUT", c.Server.Timeout)
	c.Network.Endpoints = getEnvStringSlice("GRAPHCACHE_NETWORK_ENDPOINTS", c.Network.Endpoints)
	c.Network.Timeout = getEnvDuration("GRAPHCACHE_NETWORK_TIMEOUT", c.Network.Timeout)
	c.Network.MaxConns = getEnvInt("GRAPHCACHE_NETWORK_MAX_CONNS", c.Network.MaxConns)
	c.Otel.Endpoint = getEnv("GRAPHCACHE_OTEL_ENDPOINT", c.Otel.Endpoint)
	c.Otel.Service = getEnv("GRAPHCACHE_OTEL_SERVICE", c.Otel.Service)
	c.Log.Level = getEnv("GRAPHCACHE_LOG_LEVEL", c.Log.Level)
}

// Validate checks values that have a closed set of choices.
func (c *Config) Validate() error {
	switch c.GC.Scheduler {
	case "sync", "goroutine", "timer":
	default:
		return fmt.Errorf("config: unknown gc.scheduler %q", c.GC.Scheduler)
	}
	if c.GC.Scheduler == "timer" && c.GC.Interval <= 0 {
		return fmt.Errorf("config: gc.interval must be positive for the timer scheduler")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SchedulerFunc returns the task queue scheduler named by gc.scheduler.
func (c GCConfig) SchedulerFunc() taskqueue.Scheduler {
	switch c.Scheduler {
	case "goroutine":
		return taskqueue.Goroutine
	case "timer":
		return taskqueue.Timer(c.Interval)
	}
	return taskqueue.Synchronous
}

func (c LogConfig) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("config: log.level: %w", err)
	}
	return l, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
