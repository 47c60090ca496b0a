// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the loader at an empty directory and a missing config file.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(ConfigPathEnvVar, filepath.Join(dir, "absent.yaml"))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pathtrace.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Server.AdminRoute != "/admin" {
		t.Errorf("Server.AdminRoute = %q, want /admin", cfg.Server.AdminRoute)
	}
	if cfg.Tracking.CookieName != "tracking_id" {
		t.Errorf("Tracking.CookieName = %q, want tracking_id", cfg.Tracking.CookieName)
	}
	if cfg.Tracking.TokenMaxAge != 30*24*time.Hour {
		t.Errorf("Tracking.TokenMaxAge = %v, want 720h", cfg.Tracking.TokenMaxAge)
	}
	if cfg.Tracking.ScreenWidth != 1920 || cfg.Tracking.ScreenHeight != 1080 {
		t.Errorf("default screen = %dx%d, want 1920x1080", cfg.Tracking.ScreenWidth, cfg.Tracking.ScreenHeight)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "database.json" {
		t.Errorf("Storage = %+v, want file backend at database.json", cfg.Storage)
	}
	if cfg.Storage.CheckpointInterval != 30*time.Second {
		t.Errorf("Storage.CheckpointInterval = %v, want 30s", cfg.Storage.CheckpointInterval)
	}
	if cfg.GeoIP.RequestsPerMinute != 45 {
		t.Errorf("GeoIP.RequestsPerMinute = %d, want 45", cfg.GeoIP.RequestsPerMinute)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"PORT", "server.port"},
		{"ADMIN_ROUTE", "server.admin_route"},
		{"TRACKING_COOKIE_NAME", "tracking.cookie_name"},
		{"STORAGE_BACKEND", "storage.backend"},
		{"DATABASE_PATH", "storage.path"},
		{"MAXMIND_LICENSE_KEY", "geoip.maxmind_license_key"},
		{"LOG_LEVEL", "logging.level"},
		{"CORS_ORIGINS", "security.cors_origins"},
		{"HOME", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := isolate(t)

	t.Run("no config file exists", func(t *testing.T) {
		if got := findConfigFile(); got != "" {
			t.Errorf("findConfigFile() = %q, want empty string", got)
		}
	})

	t.Run("config.yaml in working directory", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: {}"), 0o644); err != nil {
			t.Fatal(err)
		}
		defer os.Remove(filepath.Join(dir, "config.yaml"))

		if got := findConfigFile(); got != "config.yaml" {
			t.Errorf("findConfigFile() = %q, want config.yaml", got)
		}
	})

	t.Run("CONFIG_PATH takes precedence", func(t *testing.T) {
		custom := writeConfig(t, dir, "server: {}")
		t.Setenv(ConfigPathEnvVar, custom)

		if got := findConfigFile(); got != custom {
			t.Errorf("findConfigFile() = %q, want %q", got, custom)
		}
	})
}

func TestLoadEnvVars(t *testing.T) {
	isolate(t)
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_BACKEND", "badger")
	t.Setenv("BADGER_DIR", "/tmp/pathtrace-badger")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("STORAGE_CHECKPOINT_INTERVAL", "1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.BadgerDir != "/tmp/pathtrace-badger" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.CheckpointInterval != time.Minute {
		t.Errorf("CheckpointInterval = %v, want 1m", cfg.Storage.CheckpointInterval)
	}
	want := []string{"https://a.example", "https://b.example"}
	if strings.Join(cfg.Security.CORSOrigins, "|") != strings.Join(want, "|") {
		t.Errorf("CORSOrigins = %v, want %v", cfg.Security.CORSOrigins, want)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0 (default)", cfg.Server.Host)
	}
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
server:
  port: 8888
  host: "127.0.0.1"
  admin_route: "/console"
tracking:
  cookie_name: "visitor"
geoip:
  provider: "none"
logging:
  level: "warn"
`)
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8888 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server = %+v, want values from file", cfg.Server)
	}
	if cfg.Server.AdminRoute != "/console" {
		t.Errorf("AdminRoute = %q, want /console", cfg.Server.AdminRoute)
	}
	if cfg.Tracking.CookieName != "visitor" {
		t.Errorf("CookieName = %q, want visitor", cfg.Tracking.CookieName)
	}
	if cfg.GeoIP.Provider != "none" {
		t.Errorf("GeoIP.Provider = %q, want none", cfg.GeoIP.Provider)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}
	if cfg.Storage.Path != "database.json" {
		t.Errorf("Storage.Path = %q, want default", cfg.Storage.Path)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		errMsg  string
	}{
		{
			name:    "port out of range",
			envVars: map[string]string{"HTTP_PORT": "70000"},
			errMsg:  "server.port",
		},
		{
			name:    "unknown storage backend",
			envVars: map[string]string{"STORAGE_BACKEND": "sqlite"},
			errMsg:  "storage.backend",
		},
		{
			name:    "relative admin route",
			envVars: map[string]string{"ADMIN_ROUTE": "admin"},
			errMsg:  "server.admin_route",
		},
		{
			name:    "maxmind without credentials",
			envVars: map[string]string{"GEOIP_PROVIDER": "maxmind"},
			errMsg:  "MAXMIND_ACCOUNT_ID",
		},
		{
			name:    "breaker ratio above one",
			envVars: map[string]string{"GEOIP_BREAKER_FAILURE_RATIO": "1.5"},
			errMsg:  "geoip.breaker_failure_ratio",
		},
		{
			name:    "rate limit too high",
			envVars: map[string]string{"RATE_LIMIT_REQUESTS": "1000000"},
			errMsg:  "RATE_LIMIT_REQUESTS",
		},
		{
			name:    "invalid log level",
			envVars: map[string]string{"LOG_LEVEL": "verbose"},
			errMsg:  "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Load() error = %q, want mention of %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestRateLimitDisabledSkipsBounds(t *testing.T) {
	isolate(t)
	t.Setenv("DISABLE_RATE_LIMIT", "true")
	t.Setenv("RATE_LIMIT_REQUESTS", "0")

	if _, err := Load(); err != nil {
		t.Errorf("Load() error = %v, want nil when rate limiting is disabled", err)
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 3000}
	if got := s.Addr(); got != "127.0.0.1:3000" {
		t.Errorf("Addr() = %q", got)
	}
}
