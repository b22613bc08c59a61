package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "heroes" || cfg.Database != "heroes.db" || cfg.TimeScale != 1 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestLoadMergesFile(t *testing.T) {
	path := writeFile(t, "heroes.yaml", `
server:
  name: guild
  listen: 127.0.0.1:9000
database: /tmp/guild.db
log:
  format: json
  maxBackups: 0
rateLimit:
  rps: 0
timeScale: 0.01
`)
	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "guild" || cfg.Listen != "127.0.0.1:9000" || cfg.Database != "/tmp/guild.db" {
		t.Errorf("Server settings not merged: %+v", cfg)
	}
	if cfg.Label != "Hero server" {
		t.Errorf("Unset label should keep default, got %q", cfg.Label)
	}
	if cfg.Log.Format != "json" || cfg.Log.MaxBackups != 0 || cfg.Log.MaxSizeMB != 2 {
		t.Errorf("Log settings not merged: %+v", cfg.Log)
	}
	if cfg.RateLimit.RPS != 0 {
		t.Errorf("Explicit zero rps should disable limiting, got %v", cfg.RateLimit.RPS)
	}
	if cfg.Scale(2) != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", cfg.Scale(2))
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "heroes.yaml", "database: file.db\n")
	t.Setenv("HEROES_DATABASE", "env.db")
	t.Setenv("HEROES_RATE_LIMIT_BURST", "7")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database != "env.db" || cfg.RateLimit.Burst != 7 {
		t.Errorf("Env overrides not applied: %+v", cfg)
	}
}

func TestDotEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "HEROES_LOG_LEVEL=debug\n")
	// Registered so the value set by godotenv is removed after the test.
	t.Setenv("HEROES_LOG_LEVEL", "")
	os.Unsetenv("HEROES_LOG_LEVEL")

	cfg, err := Load("", env)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected debug from .env, got %q", cfg.Log.Level)
	}

	if _, err := Load("", filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Missing .env should be ignored, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
		want string
	}{
		{"bad yaml", "server: [", nil, "parse config"},
		{"dotted name", "server:\n  name: a.b\n", nil, "invalid server name"},
		{"log format", "log:\n  format: xml\n", nil, "unknown log format"},
		{"bad env number", "", map[string]string{"HEROES_TIME_SCALE": "fast"}, "HEROES_TIME_SCALE"},
		{"negative scale", "timeScale: -1\n", nil, "time scale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeFile(t, "heroes.yaml", tt.yaml)
			}
			_, err := Load(path, "")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), ""); err == nil {
		t.Error("Expected error for missing config file")
	}
}
