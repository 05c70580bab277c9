package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate reports whether candidate is an absolute URL with both a scheme
// and a host. It never panics; anything unparseable is invalid.
func Validate(candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// Normalize reduces rawURL to its lower-cased scheme://host form, dropping
// userinfo, default ports, path, query, and fragment.
func Normalize(rawURL string) (string, error) {
	if !Validate(rawURL) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	out := (&url.URL{Scheme: scheme, Host: host}).String()
	if !Validate(out) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return out, nil
}

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// StripLinkDelimiters undoes Slack's auto-linking. "<https://a.b>" and
// "<https://a.b|a.b>" both become "https://a.b".
func StripLinkDelimiters(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "<>")
	if i := strings.IndexByte(text, '|'); i >= 0 {
		text = text[:i]
	}
	return text
}

// OutputFileName is the sitemap artifact name for rootURL: "<host>.sitemap.xml".
func OutputFileName(rootURL string) string {
	host := rootURL
	if u, err := url.Parse(rootURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.NewReplacer("/", "_", "\\", "_").Replace(host)
	return host + ".sitemap.xml"
}
