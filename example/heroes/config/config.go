// Package config loads heroserver settings from defaults, an optional YAML
// file, an optional .env file and HEROES_* environment variables, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Name     string
	Label    string
	Version  string
	Database string
	// Listen is a websocket address. Empty serves stdio.
	Listen      string
	MetricsAddr string
	Log         LogConfig
	RateLimit   RateLimitConfig
	// TimeScale multiplies fight durations. Tests use a small value.
	TimeScale float64
}

type LogConfig struct {
	Path       string
	Format     string
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// RateLimitConfig bounds calls per method. RPS <= 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func Default() Config {
	return Config{
		Name:     "heroes",
		Label:    "Hero server",
		Version:  "0.1.0",
		Database: "heroes.db",
		Log: LogConfig{
			Path:       "heroes.log",
			Format:     "text",
			Level:      "info",
			MaxSizeMB:  2,
			MaxBackups: 1,
		},
		RateLimit: RateLimitConfig{RPS: 50, Burst: 100},
		TimeScale: 1,
	}
}

// FileConfig is the YAML layout. Pointer fields distinguish "unset" from
// an explicit zero.
type FileConfig struct {
	Server struct {
		Name        string `yaml:"name"`
		Label       string `yaml:"label"`
		Version     string `yaml:"version"`
		Listen      string `yaml:"listen"`
		MetricsAddr string `yaml:"metricsAddr"`
	} `yaml:"server"`
	Database string `yaml:"database"`
	Log      struct {
		Path       string `yaml:"path"`
		Format     string `yaml:"format"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"maxSizeMB"`
		MaxBackups *int   `yaml:"maxBackups"`
	} `yaml:"log"`
	RateLimit struct {
		RPS   *float64 `yaml:"rps"`
		Burst int      `yaml:"burst"`
	} `yaml:"rateLimit"`
	TimeScale float64 `yaml:"timeScale"`
}

// Load builds the configuration. An empty path skips the YAML file; a
// missing .env file is not an error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func Merge(dst *Config, src FileConfig) {
	if src.Server.Name != "" {
		dst.Name = src.Server.Name
	}
	if src.Server.Label != "" {
		dst.Label = src.Server.Label
	}
	if src.Server.Version != "" {
		dst.Version = src.Server.Version
	}
	if src.Server.Listen != "" {
		dst.Listen = src.Server.Listen
	}
	if src.Server.MetricsAddr != "" {
		dst.MetricsAddr = src.Server.MetricsAddr
	}
	if src.Database != "" {
		dst.Database = src.Database
	}
	if src.Log.Path != "" {
		dst.Log.Path = src.Log.Path
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.MaxSizeMB != 0 {
		dst.Log.MaxSizeMB = src.Log.MaxSizeMB
	}
	if src.Log.MaxBackups != nil {
		dst.Log.MaxBackups = *src.Log.MaxBackups
	}
	if src.RateLimit.RPS != nil {
		dst.RateLimit.RPS = *src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.TimeScale != 0 {
		dst.TimeScale = src.TimeScale
	}
}

// ApplyEnvOverrides reads HEROES_* variables. Malformed numbers are
// reported rather than ignored.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	str("HEROES_NAME", &cfg.Name)
	str("HEROES_LABEL", &cfg.Label)
	str("HEROES_DATABASE", &cfg.Database)
	str("HEROES_LISTEN", &cfg.Listen)
	str("HEROES_METRICS_ADDR", &cfg.MetricsAddr)
	str("HEROES_LOG_PATH", &cfg.Log.Path)
	str("HEROES_LOG_FORMAT", &cfg.Log.Format)
	str("HEROES_LOG_LEVEL", &cfg.Log.Level)

	if raw := strings.TrimSpace(os.Getenv("HEROES_RATE_LIMIT_RPS")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("HEROES_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = v
	}
	if raw := strings.TrimSpace(os.Getenv("HEROES_RATE_LIMIT_BURST")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("HEROES_RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimit.Burst = v
	}
	if raw := strings.TrimSpace(os.Getenv("HEROES_TIME_SCALE")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("HEROES_TIME_SCALE: %w", err)
		}
		cfg.TimeScale = v
	}
	return nil
}

func (c Config) Validate() error {
	if c.Name == "" || strings.Contains(c.Name, ".") {
		return fmt.Errorf("invalid server name %q", c.Name)
	}
	if c.Database == "" {
		return errors.New("database path is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.TimeScale <= 0 {
		return fmt.Errorf("time scale must be positive, got %v", c.TimeScale)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1, got %d", c.RateLimit.Burst)
	}
	return nil
}

// Scale converts a fight duration in seconds to wall time.
func (c Config) Scale(seconds int) time.Duration {
	return time.Duration(float64(seconds) * c.TimeScale * float64(time.Second))
}
