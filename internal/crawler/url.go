package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// Only http and https are accepted. It lowercases the scheme and host,
// removes default ports, and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", ErrInvalidURL, rawURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme %q not allowed in %q", ErrInvalidURL, u.Scheme, rawURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidURL, rawURL)
	}

	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host

	u.Fragment = ""
	u.RawFragment = ""

	return u.String(), nil
}

// SameScope reports whether candidate stays within root. The domain check
// compares exact host names; the path check is a string prefix test, so
// both arguments are expected to be normalized.
func SameScope(root, candidate string, sameDomainOnly, underPathOnly bool) bool {
	if sameDomainOnly {
		r, err := url.Parse(root)
		if err != nil {
			return false
		}
		c, err := url.Parse(candidate)
		if err != nil {
			return false
		}
		if !strings.EqualFold(r.Hostname(), c.Hostname()) {
			return false
		}
	}
	if underPathOnly && !strings.HasPrefix(candidate, root) {
		return false
	}
	return true
}

// hostOf returns the lowercase hostname of a URL, or "" when unparsable.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
