// Package hostutil provides shared utilities for host URL handling.
package hostutil

import (
	"fmt"
	"net/url"
	"strings"
)

// RequireSecureURL rejects URLs that would carry credentials in clear text.
// https is always accepted; http only for loopback hosts. Empty is accepted
// so callers can validate optional settings.
func RequireSecureURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if IsLocalhost(u.Host) {
			return nil
		}
		return fmt.Errorf("refusing insecure http:// URL %s (use https or a localhost address)", rawURL)
	default:
		return fmt.Errorf("unsupported URL scheme %q in %s", u.Scheme, rawURL)
	}
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	// Strip port if present for easier matching
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if this is IPv6 bracketed address
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	if hostWithoutPort == "[::1]" {
		return true
	}
	return false
}
