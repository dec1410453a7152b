package httpcheck

import (
	"net"
	"net/url"
	"strings"
)

// ProxyRoute is the proxy host used for one URL scheme.
type ProxyRoute struct {
	Scheme string
	Host   string
}

// ResolveProxy returns the route for scheme from proxies, a scheme to proxy
// URL mapping. The second result is false when the scheme connects directly.
func ResolveProxy(scheme string, proxies map[string]string) (ProxyRoute, bool) {
	raw, ok := proxies[strings.ToLower(scheme)]
	if !ok {
		return ProxyRoute{}, false
	}
	host := ProxyHost(raw)
	if host == "" {
		return ProxyRoute{}, false
	}
	return ProxyRoute{Scheme: scheme, Host: host}, true
}

// ProxyHost extracts host[:port] from a proxy URL such as
// "http://proxy.local:3128/" or a bare "proxy.local:3128".
// It returns "" when raw holds no host.
func ProxyHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// proxyDialAddress adds the default proxy port when host has none.
func proxyDialAddress(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), "80")
}
