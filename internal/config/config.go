// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

// Package config loads pathtrace configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values for every setting
//  2. Config File: optional YAML file (config.yaml, or CONFIG_PATH)
//  3. Environment Variables: override any setting
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Tracking   TrackingConfig   `koanf:"tracking"`
	Storage    StorageConfig    `koanf:"storage"`
	GeoIP      GeoIPConfig      `koanf:"geoip"`
	Security   SecurityConfig   `koanf:"security"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`

	// AdminRoute is the path prefix of the observer console. A websocket
	// whose Referer path starts with it joins as an observer.
	AdminRoute string `koanf:"admin_route" validate:"routeprefix"`

	// StaticDir serves the page bundle and console assets when set.
	StaticDir string `koanf:"static_dir"`

	Environment string `koanf:"environment" validate:"oneof=development staging production"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TrackingConfig holds visitor identity and transport settings.
type TrackingConfig struct {
	CookieName   string        `koanf:"cookie_name" validate:"required,max=64"`
	TokenMaxAge  time.Duration `koanf:"token_max_age" validate:"gt=0"`
	SecureCookie bool          `koanf:"secure_cookie"`

	// ScreenWidth and ScreenHeight are recorded for every new visitor.
	ScreenWidth  int `koanf:"screen_width" validate:"min=1"`
	ScreenHeight int `koanf:"screen_height" validate:"min=1"`

	MaxMessageBytes int64 `koanf:"max_message_bytes" validate:"min=1024"`
	SendBuffer      int   `koanf:"send_buffer" validate:"min=1"`
}

// StorageConfig selects and configures the durability backend.
type StorageConfig struct {
	// Backend is "file" (JSON document) or "badger".
	Backend string `koanf:"backend" validate:"oneof=file badger"`

	// Path is the JSON document for the file backend.
	Path string `koanf:"path"`

	// BadgerDir is the directory for the badger backend.
	BadgerDir string `koanf:"badger_dir"`

	CheckpointInterval time.Duration `koanf:"checkpoint_interval" validate:"gte=1s"`
}

// GeoIPConfig configures the geo lookup provider.
type GeoIPConfig struct {
	// Provider is "ipapi", "maxmind" or "none".
	Provider string `koanf:"provider" validate:"oneof=ipapi maxmind none"`

	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	CacheTTL          time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	RequestsPerMinute int           `koanf:"requests_per_minute" validate:"min=1"`

	// Base URLs, overridable for testing against a stub.
	IPAPIURL   string `koanf:"ipapi_url" validate:"omitempty,url"`
	MaxMindURL string `koanf:"maxmind_url" validate:"omitempty,url"`

	MaxMindAccountID  string `koanf:"maxmind_account_id"`
	MaxMindLicenseKey string `koanf:"maxmind_license_key"`

	// Circuit breaker settings. The breaker opens when at least
	// BreakerMinRequests were seen and the failure ratio reaches
	// BreakerFailureRatio.
	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests" validate:"min=1"`
	BreakerInterval     time.Duration `koanf:"breaker_interval" validate:"gt=0"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests" validate:"min=1"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio" validate:"gt=0,lte=1"`
}

// SecurityConfig holds HTTP hardening settings.
type SecurityConfig struct {
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`

	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`

	// RedactPII masks visitor tokens and IP addresses in log lines.
	RedactPII bool `koanf:"redact_pii"`
}

// SupervisorConfig mirrors the suture failure parameters.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gte=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gte=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gte=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}
