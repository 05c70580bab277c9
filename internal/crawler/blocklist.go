package crawler

import (
	"net/url"
	"strings"
)

// Blocklist matches hosts that must never be crawled. Patterns are exact
// hosts ("localhost") or suffix wildcards ("*.internal" or ".internal").
// A nil or empty Blocklist blocks nothing.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewBlocklist builds a Blocklist from patterns. It returns nil when no
// usable pattern remains after trimming.
func NewBlocklist(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

// HostBlocked reports whether host, without port, matches a pattern.
func (b *Blocklist) HostBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return false
	}
	if _, exact := b.exact[host]; exact {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Blocked reports whether the host of rootURL is blocked. Unparseable URLs
// are not blocked here; Validate rejects them first.
func (b *Blocklist) Blocked(rootURL string) bool {
	if b == nil {
		return false
	}
	u, err := url.Parse(rootURL)
	if err != nil {
		return false
	}
	return b.HostBlocked(u.Hostname())
}
