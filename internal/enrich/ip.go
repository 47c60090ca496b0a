// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package enrich

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const loopbackV4 = "127.0.0.1"

// privatePrefixes are never sent to a geo provider.
var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// NormalizeIP strips ports, brackets and the IPv4-mapped prefix, and maps the
// IPv6 loopback to 127.0.0.1. Input that does not parse is returned trimmed.
func NormalizeIP(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	addr = addr.Unmap().WithZone("")
	if addr == netip.IPv6Loopback() {
		return loopbackV4
	}
	return addr.String()
}

// ClientIP returns the normalized source address of r: the first hop of
// X-Forwarded-For when present, otherwise the peer address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := NormalizeIP(first); ip != "" {
			return ip
		}
	}
	return NormalizeIP(r.RemoteAddr)
}

// IsPrivateIP reports whether ip is loopback, link-local or in a private
// range. Unparseable input counts as private so it is never looked up.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(NormalizeIP(ip))
	if err != nil {
		return true
	}
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
