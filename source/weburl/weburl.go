package weburl

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pre-compiled CIDR networks for private/reserved IP ranges.
var (
	cgnat    *net.IPNet // 100.64.0.0/10 - Carrier-grade NAT
	v6unique *net.IPNet // fc00::/7 - IPv6 unique local
	v6link   *net.IPNet // fe80::/10 - IPv6 link-local
)

// sourceIDPattern validates source ID format.
var sourceIDPattern = regexp.MustCompile(`^source\.web\.[a-z0-9-]+$`)

// maxSlugLen bounds the slug part of a source ID.
const maxSlugLen = 80

func init() {
	var err error

	_, cgnat, err = net.ParseCIDR("100.64.0.0/10")
	if err != nil {
		panic("invalid CGNAT CIDR: " + err.Error())
	}

	_, v6unique, err = net.ParseCIDR("fc00::/7")
	if err != nil {
		panic("invalid IPv6 unique local CIDR: " + err.Error())
	}

	_, v6link, err = net.ParseCIDR("fe80::/10")
	if err != nil {
		panic("invalid IPv6 link-local CIDR: " + err.Error())
	}
}

// ValidateURL validates a URL for security (SSRF prevention).
// It requires HTTPS and blocks localhost, private IPs, and local domains.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "https" {
		return fmt.Errorf("only HTTPS URLs are allowed")
	}

	host := parsed.Hostname()

	lowHost := strings.ToLower(host)
	if lowHost == "localhost" || lowHost == "127.0.0.1" || lowHost == "::1" {
		return fmt.Errorf("localhost URLs are not allowed")
	}

	if strings.HasSuffix(lowHost, ".local") || strings.HasSuffix(lowHost, ".internal") {
		return fmt.Errorf("local domain URLs are not allowed")
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}

	return nil
}

// IsPrivateIP checks if an IP is in private/reserved ranges.
// It handles IPv4, IPv6, and IPv6-mapped IPv4 addresses.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	// IPv6-mapped IPv4 (::ffff:x.x.x.x)
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			return true
		}
	}

	if cgnat.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip) {
		return true
	}

	return false
}

// SourceID derives a stable roadmap identifier from a URL, of the form
// "source.web.<slug>" where slug is built from host, path and query.
func SourceID(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		hash := sha256.Sum256([]byte(rawURL))
		return "source.web." + hex.EncodeToString(hash[:8])
	}

	parts := []string{strings.ReplaceAll(parsed.Hostname(), ".", "-")}
	if path := strings.Trim(parsed.Path, "/"); path != "" {
		parts = append(parts, path)
	}
	if parsed.RawQuery != "" {
		parts = append(parts, parsed.RawQuery)
	}

	slug := strings.ToLower(strings.Join(parts, "-"))
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, slug)

	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}

	return "source.web." + slug
}

// ValidSourceID reports whether id has the "source.web.<slug>" shape.
func ValidSourceID(id string) bool {
	return sourceIDPattern.MatchString(id)
}

// ExtractDomain extracts the host name from a URL.
// Returns an empty string if the URL is invalid.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// MatchKey returns the "host/path" form of a URL that exclusion patterns
// are matched against. Scheme, port, query, fragment and surrounding
// slashes of the path are ignored.
func MatchKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname()) + "/" + strings.Trim(parsed.Path, "/")
}

// ValidatePatterns checks that every exclusion pattern is a valid
// doublestar glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclusion pattern %q", p)
		}
	}
	return nil
}

// Excluded reports whether rawURL matches any of the doublestar patterns,
// e.g. "en.wikipedia.org/wiki/Special:*" or "**/login".
func Excluded(rawURL string, patterns []string) (bool, error) {
	if len(patterns) == 0 {
		return false, nil
	}
	key := MatchKey(rawURL)
	if key == "" {
		return false, fmt.Errorf("invalid URL %q", rawURL)
	}
	for _, p := range patterns {
		ok, err := doublestar.Match(p, key)
		if err != nil {
			return false, fmt.Errorf("match pattern %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
