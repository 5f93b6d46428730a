// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNonLocalhost is returned for a non-loopback endpoint while offline.
	ErrNonLocalhost = errors.New("offline mode: only localhost endpoints are allowed")

	// ErrInvalidURLScheme is returned when the URL scheme is not http or https.
	ErrInvalidURLScheme = errors.New("only http and https endpoints are allowed")
)

// =============================================================================
// POLICY
// =============================================================================

// Policy decides which provider endpoints may be contacted. The zero value
// allows any http(s) endpoint.
type Policy struct {
	// Enabled restricts endpoints to loopback hosts.
	Enabled bool
}

// CheckURL validates a provider base URL against the policy. The scheme is
// checked whether or not offline mode is on.
func (p Policy) CheckURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInvalidURLScheme, rawURL)
	}

	if p.Enabled && !IsLocalhost(parsed.Hostname()) {
		return fmt.Errorf("%w: %s", ErrNonLocalhost, parsed.Host)
	}
	return nil
}

// StatusIndicator returns a short label for status lines.
func (p Policy) StatusIndicator() string {
	if p.Enabled {
		return "OFFLINE"
	}
	return "ONLINE"
}

// =============================================================================
// HOST CHECKS
// =============================================================================

// IsLocalhost reports whether host names the local machine.
// Accepts "localhost", any 127.0.0.0/8 address and every IPv6 loopback
// spelling, with or without a port.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
