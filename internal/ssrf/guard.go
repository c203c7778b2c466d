// Package ssrf classifies scan destinations that must never be fetched on a
// user's behalf: private and link-local addresses, cloud metadata endpoints
// and internal hostnames. The checks run twice per scan attempt, against the
// requested hostname before navigation and against the hostname the browser
// actually lands on after redirects.
package ssrf

import (
	"net/netip"
	"strings"
)

// Well-known singletons outside the broad ranges below.
const (
	awsMetadataIP       = "169.254.169.254"
	gcpMetadataHostname = "metadata.google.internal"
)

// blockedSuffixes are hostname suffixes that only resolve inside private
// networks or are reserved for documentation and testing.
var blockedSuffixes = []string{
	".localhost",
	".local",
	".internal",
	".test",
	".example",
	".invalid",
}

var privateV4Prefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
}

var privateV6Prefixes = []netip.Prefix{
	netip.MustParsePrefix("fc00::/7"), // unique local
	netip.MustParsePrefix("fe80::/10"), // link local
}

// IsPrivateIP reports whether the literal IP address is private, loopback,
// link-local or a metadata endpoint. Malformed input returns false: a
// literal that does not parse cannot be routed, and syntactic validation is
// the caller's job via URL parsing, not this function's.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}

	// IPv4-mapped IPv6 literals can smuggle an IPv4 destination past naive
	// string checks; they are rejected outright.
	if addr.Is4In6() {
		return true
	}

	if addr.Is4() {
		if addr.String() == awsMetadataIP {
			return true
		}
		for _, p := range privateV4Prefixes {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	if addr.IsLoopback() {
		return true
	}
	for _, p := range privateV6Prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsBlockedHostname reports whether a hostname must not be scanned.
// Hostnames are compared case-insensitively with any trailing dot removed.
func IsBlockedHostname(hostname string) bool {
	host := strings.ToLower(strings.TrimSpace(hostname))
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return true
	}

	if host == "localhost" || host == gcpMetadataHostname {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}

	// IPv6 literals arrive in URL bracket notation.
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return IsPrivateIP(host[1 : len(host)-1])
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return IsPrivateIP(addr.String())
	}

	// Bare single-label hostnames (no dot) only resolve via internal
	// search domains.
	if !strings.Contains(host, ".") {
		return true
	}

	return false
}
