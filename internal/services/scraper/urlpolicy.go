package scraper

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrInvalidURL is returned for URLs the pipeline refuses to track: missing
// host, or a scheme other than http/https.
var ErrInvalidURL = errors.New("invalid product URL")

// defaultTrackingParams are dropped during canonicalization. Keys are exact
// matches; entries ending in "_" match as prefixes (utm_, mc_).
var defaultTrackingParams = []string{
	"utm_",
	"mc_",
	"gclid",
	"fbclid",
	"srsltid",
	"ref",
}

// URLPolicy canonicalizes competitor URLs and enforces the optional domain
// allowlist. One instance is built from config at startup and shared.
type URLPolicy struct {
	trackingExact    map[string]struct{}
	trackingPrefixes []string
	allowlistEnabled bool
	allowedDomains   []string
}

// NewURLPolicy builds a policy with the default tracking-parameter set.
func NewURLPolicy(allowlistEnabled bool, allowedDomains []string) *URLPolicy {
	return NewURLPolicyWithParams(defaultTrackingParams, allowlistEnabled, allowedDomains)
}

// NewURLPolicyWithParams builds a policy with a custom tracking-parameter set.
func NewURLPolicyWithParams(trackingParams []string, allowlistEnabled bool, allowedDomains []string) *URLPolicy {
	p := &URLPolicy{
		trackingExact:    make(map[string]struct{}),
		allowlistEnabled: allowlistEnabled,
	}
	for _, param := range trackingParams {
		param = strings.ToLower(strings.TrimSpace(param))
		if param == "" {
			continue
		}
		if strings.HasSuffix(param, "_") {
			p.trackingPrefixes = append(p.trackingPrefixes, param)
		} else {
			p.trackingExact[param] = struct{}{}
		}
	}
	for _, domain := range allowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain != "" {
			p.allowedDomains = append(p.allowedDomains, domain)
		}
	}
	return p
}

// Canonicalize produces the stable dedupe key for a competitor URL:
// lowercased scheme and host, default port and "www." stripped, fragment
// removed, tracking parameters dropped, remaining query sorted by name,
// trailing slash removed unless the path is exactly "/".
//
// Pure and deterministic: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func (p *URLPolicy) Canonicalize(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	host := normalizeHost(parsed.Host, scheme)
	if host == "" {
		return "", fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	parsed.Scheme = scheme
	parsed.Host = host
	parsed.User = nil
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.RawQuery = p.filterQuery(parsed.Query())

	// Trim the trailing slash on both the decoded and encoded forms so
	// String() keeps the original escaping.
	if parsed.Path != "/" {
		parsed.Path = strings.TrimRight(parsed.Path, "/")
	}
	if parsed.RawPath != "" && parsed.RawPath != "/" {
		parsed.RawPath = strings.TrimRight(parsed.RawPath, "/")
	}
	if parsed.Path == "" {
		parsed.Path = "/"
		parsed.RawPath = ""
	}

	return parsed.String(), nil
}

// filterQuery drops tracking parameters and blank values, then re-encodes
// sorted by name. url.Values.Encode sorts keys, which keeps query order from
// affecting the canonical form.
func (p *URLPolicy) filterQuery(values url.Values) string {
	filtered := url.Values{}
	for key, vals := range values {
		if p.isTrackingParam(key) {
			continue
		}
		for _, v := range vals {
			if v != "" {
				filtered.Add(key, v)
			}
		}
	}
	// Stabilize repeated keys: Encode sorts keys but preserves the caller's
	// value order, so sort values too.
	for key := range filtered {
		sort.Strings(filtered[key])
	}
	return filtered.Encode()
}

func (p *URLPolicy) isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	if _, ok := p.trackingExact[key]; ok {
		return true
	}
	for _, prefix := range p.trackingPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// DomainAllowed reports whether the host passes the allowlist. With the
// allowlist disabled every host passes; enabled with an empty list, none do.
func (p *URLPolicy) DomainAllowed(rawURL string) bool {
	if !p.allowlistEnabled {
		return true
	}
	domain := ExtractDomain(rawURL)
	if domain == "" {
		return false
	}
	for _, allowed := range p.allowedDomains {
		if domain == allowed || strings.HasSuffix(domain, "."+allowed) {
			return true
		}
	}
	return false
}

// ExtractDomain returns the lowercased host without port or "www." prefix,
// or "" when the URL does not parse.
func ExtractDomain(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Host, strings.ToLower(parsed.Scheme))
}

// normalizeHost lowercases, strips the scheme's default port, and strips a
// leading "www.".
func normalizeHost(host, scheme string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	switch scheme {
	case "http":
		host = strings.TrimSuffix(host, ":80")
	case "https":
		host = strings.TrimSuffix(host, ":443")
	}
	host = strings.TrimPrefix(host, "www.")
	return host
}
