// Package hosts decides which asset URLs the archive may download.
package hosts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrUnsupportedScheme rejects anything but http and https, e.g. data: or cid: image sources.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrBlockedHost rejects a host matched by the blocklist.
	ErrBlockedHost = errors.New("host is blocked")
)

// Policy stores exact hosts and suffix wildcards derived from configuration.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy. Patterns are exact hosts ("tracker.example.com") or
// suffix wildcards ("*.doubleclick.net" or ".doubleclick.net").
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// AllowFetch returns nil when rawURL may be downloaded.
func (p *Policy) AllowFetch(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("parse %q: %w", rawURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if p.IsBlocked(u.Hostname()) {
		return fmt.Errorf("%w: %s", ErrBlockedHost, u.Hostname())
	}
	return nil
}

// IsBlocked reports whether host matches an exact entry or a suffix.
func (p *Policy) IsBlocked(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, exact := p.exact[host]; exact {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
