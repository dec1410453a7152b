// Package httpcheck decides whether an HTTP(S) link is reachable.
//
// A check issues HEAD requests first, falls back to GET where servers need
// it, follows redirects, answers Basic auth challenges and honours
// robots.txt, and ends in exactly one verdict: valid, warning or invalid.
package httpcheck

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidTarget is returned when a URL cannot be checked by this package.
var ErrInvalidTarget = errors.New("invalid target")

// Target is the absolute URL under check. Redirects replace it; it is
// always a valid absolute http or https URL with a lower-case host.
type Target struct {
	u url.URL
}

// ParseTarget parses raw into a Target.
// Only absolute http and https URLs with a host are accepted.
func ParseTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return newTarget(u)
}

func newTarget(u *url.URL) (*Target, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, u.String())
	}
	t := &Target{u: *u}
	t.u.Scheme = scheme
	t.u.Host = strings.ToLower(u.Host)
	t.u.User = nil
	return t, nil
}

// Scheme returns "http" or "https".
func (t *Target) Scheme() string { return t.u.Scheme }

// Authority returns the lower-cased host[:port].
func (t *Target) Authority() string { return t.u.Host }

// Hostname returns the host without port.
func (t *Target) Hostname() string { return t.u.Hostname() }

// Path returns the decoded path. It is empty for "http://example.com".
func (t *Target) Path() string { return t.u.Path }

// absoluteURI returns the target in absolute-form, as sent to a proxy.
func (t *Target) absoluteURI() *url.URL {
	return &url.URL{
		Scheme:   t.u.Scheme,
		Opaque:   "//" + t.u.Host + t.u.EscapedPath(),
		RawQuery: t.u.RawQuery,
	}
}

// String returns the full URL, fragment included.
func (t *Target) String() string { return t.u.String() }

// RobotsURL returns scheme://authority/robots.txt.
func (t *Target) RobotsURL() string {
	return t.u.Scheme + "://" + t.u.Host + "/robots.txt"
}

// Resolve resolves ref, usually a Location header value, against t.
func (t *Target) Resolve(ref string) (*Target, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: location %q: %v", ErrInvalidTarget, ref, err)
	}
	return newTarget(t.u.ResolveReference(r))
}

// dialAddress returns the host:port to connect to, with the scheme's
// default port and the host in its ASCII (punycode) form.
func (t *Target) dialAddress() (string, error) {
	host := t.u.Hostname()
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("%w: host %q: %v", ErrInvalidTarget, host, err)
		}
		host = ascii
	}
	port := t.u.Port()
	if port == "" {
		port = defaultPort(t.u.Scheme)
	}
	return net.JoinHostPort(host, port), nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}
