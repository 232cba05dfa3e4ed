// Package security guards artifact exports: image URLs are checked
// before download and file names derived from untrusted titles are
// sanitized.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	ErrPrivateIP     = fmt.Errorf("URL resolves to private IP address")
	ErrUntrustedHost = fmt.Errorf("URL host is not trusted")
	ErrInvalidScheme = fmt.Errorf("only HTTPS URLs are allowed")
)

// DefaultImageHosts are the synthesis hosts artifact URLs normally
// point at.
var DefaultImageHosts = []string{
	"image.pollinations.ai",
}

// URLPolicy decides which image URLs may be fetched. The zero value
// rejects nothing; use DefaultURLPolicy for downloads of stored
// artifact URLs.
type URLPolicy struct {
	// AllowedHosts restricts downloads to these hosts (and their
	// subdomains) when non-empty.
	AllowedHosts []string

	// RequireHTTPS rejects plain http URLs.
	RequireHTTPS bool

	// BlockPrivate rejects hosts that are, or resolve to, private or
	// otherwise non-routable addresses.
	BlockPrivate bool
}

func DefaultURLPolicy() URLPolicy {
	return URLPolicy{
		AllowedHosts: DefaultImageHosts,
		RequireHTTPS: true,
		BlockPrivate: true,
	}
}

func (p URLPolicy) Validate(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if p.RequireHTTPS && parsed.Scheme != "https" {
		return ErrInvalidScheme
	}

	host := parsed.Hostname()
	if len(p.AllowedHosts) > 0 && !p.allowedHost(host) {
		return ErrUntrustedHost
	}

	if p.BlockPrivate {
		return validateHostIP(host)
	}
	return nil
}

func (p URLPolicy) allowedHost(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range p.AllowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts fail later at dial time.
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0: // 0.0.0.0/8
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT)
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0: // 192.0.0.0/24
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2: // 192.0.2.0/24 (TEST-NET-1)
			return true
		case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100: // 198.51.100.0/24 (TEST-NET-2)
			return true
		case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113: // 203.0.113.0/24 (TEST-NET-3)
			return true
		case ip4[0] >= 224 && ip4[0] <= 239: // 224.0.0.0/4 (Multicast)
			return true
		case ip4[0] >= 240: // 240.0.0.0/4 (Reserved)
			return true
		}
	}

	return false
}
