package httpcheck

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Outcome is the status line and headers of one response.
type Outcome struct {
	StatusCode int
	StatusText string
	Header     http.Header
}

// Location returns the redirect target, falling back to the legacy Uri header.
func (o *Outcome) Location() string {
	if loc := o.Header.Get("Location"); loc != "" {
		return loc
	}
	return o.Header.Get("Uri")
}

// MediaType returns the lower-cased media type of Content-Type, or "".
func (o *Outcome) MediaType() string {
	ct := o.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

// IsHTML reports whether the response declares an HTML body.
func (o *Outcome) IsHTML() bool {
	return o.MediaType() == "text/html"
}

// ConnectionError is a socket or protocol failure during one attempt.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Dialer opens the network connection for one attempt.
// *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Attempter performs exactly one HTTP exchange.
type Attempter interface {
	Attempt(ctx context.Context, target *Target, method, proxy string, cred *Credential) (*Outcome, error)
}

// Executor sends a single request per Attempt over a fresh connection and
// closes it before returning, so a check never holds more than one open
// connection.
type Executor struct {
	Dialer    Dialer
	TLSConfig *tls.Config
	UserAgent string
}

// NewExecutor returns an Executor with a 30 second dial timeout.
func NewExecutor(userAgent string, insecureTLS bool) *Executor {
	return &Executor{
		Dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		TLSConfig: &tls.Config{InsecureSkipVerify: insecureTLS}, //nolint:gosec
		UserAgent: userAgent,
	}
}

// Attempt sends method for target, directly or through proxy (host[:port]),
// with cred attached when non-nil. Only the status line and headers are read.
func (e *Executor) Attempt(ctx context.Context, target *Target, method, proxy string, cred *Credential) (*Outcome, error) {
	var addr string
	if proxy != "" {
		addr = proxyDialAddress(proxy)
	} else {
		var err error
		addr, err = target.dialAddress()
		if err != nil {
			return nil, &ConnectionError{Op: "resolve", Addr: target.Authority(), Err: err}
		}
	}

	conn, err := e.dialer().DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if proxy == "" && target.Scheme() == "https" {
		tlsConn := tls.Client(conn, e.tlsConfig(target.Hostname()))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, &ConnectionError{Op: "tls handshake", Addr: addr, Err: err}
		}
		conn = tlsConn
	}

	req := e.newRequest(target, method, proxy, cred)
	if err := req.Write(conn); err != nil {
		return nil, &ConnectionError{Op: "write", Addr: addr, Err: err}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, &ConnectionError{Op: "read", Addr: addr, Err: err}
	}
	// The body is never read; closing the connection discards it.
	return &Outcome{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header,
	}, nil
}

// newRequest builds the request. Through a proxy the request target is the
// absolute URL and Host names the proxy; directly it is the path and query
// and Host names the target.
func (e *Executor) newRequest(target *Target, method, proxy string, cred *Credential) *http.Request {
	req := &http.Request{
		Method:     method,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Close:      true,
	}
	if proxy != "" {
		req.URL = target.absoluteURI()
		req.Host = proxy
	} else {
		req.URL = &url.URL{Path: target.u.Path, RawPath: target.u.RawPath, RawQuery: target.u.RawQuery}
		req.Host = target.Authority()
	}
	if cred != nil {
		req.Header.Set("Authorization", cred.Header())
	}
	req.Header.Set("User-Agent", e.UserAgent)
	return req
}

func (e *Executor) dialer() Dialer {
	if e.Dialer != nil {
		return e.Dialer
	}
	return &net.Dialer{Timeout: 30 * time.Second}
}

func (e *Executor) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if e.TLSConfig != nil {
		cfg = e.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	return cfg
}

// statusText strips the numeric code from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
