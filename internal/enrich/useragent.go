// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package enrich

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/tomtom215/pathtrace/internal/models"
)

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// DefaultScreen is recorded for every new visitor; the transport does not
// carry the real screen size.
var DefaultScreen = models.Screen{Width: 1920, Height: 1080}

// ParseDevice derives the device descriptor from a User-Agent header. Parts
// that cannot be determined are Unknown; the type defaults to desktop.
func ParseDevice(userAgent string, screen models.Screen) models.Device {
	dev := models.Device{
		Browser: models.Unknown,
		OS:      models.Unknown,
		Type:    DeviceDesktop,
		Screen:  screen,
	}
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return dev
	}

	ua := useragent.New(userAgent)

	if name, version := ua.Browser(); name != "" {
		dev.Browser = joinNonEmpty(name, version)
	}
	if info := ua.OSInfo(); info.Name != "" {
		dev.OS = joinNonEmpty(info.Name, info.Version)
	}
	dev.Type = deviceType(ua, userAgent)
	return dev
}

func deviceType(ua *useragent.UserAgent, raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "ipad"),
		strings.Contains(lower, "tablet"),
		strings.Contains(lower, "android") && !strings.Contains(lower, "mobile"):
		return DeviceTablet
	case ua.Mobile():
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

func joinNonEmpty(name, version string) string {
	if version == "" {
		return name
	}
	return name + " " + version
}
