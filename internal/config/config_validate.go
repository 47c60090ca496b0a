// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package config

import (
	"fmt"
	"time"

	"github.com/tomtom215/pathtrace/internal/validation"
)

// Rate limit bounds.
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

// Validate runs the struct tag rules and the cross-field checks.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateGeoIP(); err != nil {
		return err
	}
	return c.validateRateLimits()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("STORAGE_PATH is required when STORAGE_BACKEND=file")
		}
	case "badger":
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR is required when STORAGE_BACKEND=badger")
		}
	}
	return nil
}

func (c *Config) validateGeoIP() error {
	if c.GeoIP.Provider != "maxmind" {
		return nil
	}
	if c.GeoIP.MaxMindAccountID == "" || c.GeoIP.MaxMindLicenseKey == "" {
		return fmt.Errorf("MAXMIND_ACCOUNT_ID and MAXMIND_LICENSE_KEY are required when GEOIP_PROVIDER=maxmind")
	}
	return nil
}

// validateRateLimits keeps the limiter within sensible bounds unless disabled.
func (c *Config) validateRateLimits() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// HasWildcardCORS reports whether any origin is allowed.
func (c *Config) HasWildcardCORS() bool {
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}
