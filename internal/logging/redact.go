// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package logging

import (
	"net/netip"
	"strings"
)

// tokenVisiblePrefix keeps "visitor-" plus a few digits readable in redacted logs.
const tokenVisiblePrefix = 12

// MaskToken returns token unchanged unless PII redaction is enabled, in which case
// everything after a short prefix is replaced with asterisks.
func MaskToken(token string) string {
	mu.RLock()
	redact := redactPII
	mu.RUnlock()
	if !redact {
		return token
	}
	return maskToken(token)
}

func maskToken(token string) string {
	if len(token) <= tokenVisiblePrefix {
		return strings.Repeat("*", len(token))
	}
	return token[:tokenVisiblePrefix] + strings.Repeat("*", len(token)-tokenVisiblePrefix)
}

// MaskIP returns ip unchanged unless PII redaction is enabled. Redacted IPv4 addresses
// keep their /24 network; IPv6 addresses keep their /48.
func MaskIP(ip string) string {
	mu.RLock()
	redact := redactPII
	mu.RUnlock()
	if !redact {
		return ip
	}
	return maskIP(ip)
}

func maskIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 24
	if addr.Is6() && !addr.Is4In6() {
		bits = 48
	}
	prefix, err := addr.Unmap().Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
