// Package weburl provides URL validation, identifiers and exclusion
// matching for roadmap web sources.
//
// # URL Validation
//
// ValidateURL guards the source fetcher against SSRF:
//
//   - Requires HTTPS scheme
//   - Blocks localhost variants (localhost, 127.0.0.1, ::1)
//   - Blocks local domains (.local, .internal)
//   - Blocks private IP ranges (RFC 1918, CGNAT, link-local, IPv6 ULA)
//
// IsPrivateIP is also used by the fetcher's dialer after DNS resolution, so
// a public name resolving to a private address is refused as well.
//
// # Source IDs
//
// SourceID creates readable, deterministic identifiers for the roadmap's
// web_sources list:
//
//	https://en.wikipedia.org/wiki/Q_plasma → source.web.en-wikipedia-org-wiki-q-plasma
//
// # Exclusions
//
// Excluded matches the "host/path" form of a URL against doublestar globs,
// so candidate URLs can be filtered before any network access:
//
//	excluded, err := weburl.Excluded(u, []string{"arxiv.org/**"})
package weburl
