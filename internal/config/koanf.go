// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pathtrace/config.yaml",
	"/etc/pathtrace/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every default applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AdminRoute:      "/admin",
			Environment:     "development",
		},
		Tracking: TrackingConfig{
			CookieName:      "tracking_id",
			TokenMaxAge:     30 * 24 * time.Hour,
			ScreenWidth:     1920,
			ScreenHeight:    1080,
			MaxMessageBytes: 512 * 1024,
			SendBuffer:      256,
		},
		Storage: StorageConfig{
			Backend:            "file",
			Path:               "database.json",
			BadgerDir:          "data/badger",
			CheckpointInterval: 30 * time.Second,
		},
		GeoIP: GeoIPConfig{
			Provider:            "ipapi",
			Timeout:             5 * time.Second,
			CacheTTL:            24 * time.Hour,
			RequestsPerMinute:   45,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      2 * time.Minute,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load reads configuration with the precedence ENV > File > Defaults and
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, preferring CONFIG_PATH.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they come from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored so unrelated environment does not leak in.
var envMappings = map[string]string{
	// Server
	"http_port":        "server.port",
	"port":             "server.port",
	"http_host":        "server.host",
	"http_timeout":     "server.timeout",
	"shutdown_timeout": "server.shutdown_timeout",
	"admin_route":      "server.admin_route",
	"static_dir":       "server.static_dir",
	"environment":      "server.environment",

	// Tracking
	"tracking_cookie_name":       "tracking.cookie_name",
	"tracking_token_max_age":     "tracking.token_max_age",
	"tracking_secure_cookie":     "tracking.secure_cookie",
	"tracking_screen_width":      "tracking.screen_width",
	"tracking_screen_height":     "tracking.screen_height",
	"tracking_max_message_bytes": "tracking.max_message_bytes",
	"tracking_send_buffer":       "tracking.send_buffer",

	// Storage
	"storage_backend":             "storage.backend",
	"storage_path":                "storage.path",
	"database_path":               "storage.path",
	"badger_dir":                  "storage.badger_dir",
	"storage_checkpoint_interval": "storage.checkpoint_interval",

	// GeoIP
	"geoip_provider":              "geoip.provider",
	"geoip_timeout":               "geoip.timeout",
	"geoip_cache_ttl":             "geoip.cache_ttl",
	"geoip_requests_per_minute":   "geoip.requests_per_minute",
	"geoip_ipapi_url":             "geoip.ipapi_url",
	"geoip_maxmind_url":           "geoip.maxmind_url",
	"maxmind_account_id":          "geoip.maxmind_account_id",
	"maxmind_license_key":         "geoip.maxmind_license_key",
	"geoip_breaker_max_requests":  "geoip.breaker_max_requests",
	"geoip_breaker_interval":      "geoip.breaker_interval",
	"geoip_breaker_timeout":       "geoip.breaker_timeout",
	"geoip_breaker_min_requests":  "geoip.breaker_min_requests",
	"geoip_breaker_failure_ratio": "geoip.breaker_failure_ratio",

	// Security
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	// Logging
	"log_level":      "logging.level",
	"log_format":     "logging.format",
	"log_caller":     "logging.caller",
	"log_redact_pii": "logging.redact_pii",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - STORAGE_BACKEND -> storage.backend
//   - MAXMIND_LICENSE_KEY -> geoip.maxmind_license_key
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
