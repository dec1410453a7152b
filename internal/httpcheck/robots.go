package httpcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

const (
	// maxRobotsSize caps how much of a robots.txt body is read.
	maxRobotsSize = 512 << 10

	// defaultRobotsTimeout bounds a robots.txt fetch when no timeout is set.
	defaultRobotsTimeout = 30 * time.Second
)

// RobotsPolicy is a parsed robots.txt. It is read-only once created.
type RobotsPolicy struct {
	SourceURL string
	FetchedAt time.Time
	rules     *robotstxt.RobotsData
}

// NewRobotsPolicy parses a robots.txt response with the given status.
// 4xx means no restrictions, 5xx means everything is disallowed.
func NewRobotsPolicy(sourceURL string, statusCode int, body []byte) (*RobotsPolicy, error) {
	rules, err := robotstxt.FromStatusAndBytes(statusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sourceURL, err)
	}
	return &RobotsPolicy{SourceURL: sourceURL, FetchedAt: time.Now().UTC(), rules: rules}, nil
}

// CanFetch reports whether userAgent may fetch rawURL.
// Unparseable URLs are allowed; syntax is not this policy's concern.
func (p *RobotsPolicy) CanFetch(userAgent, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return p.rules.TestAgent(u.RequestURI(), userAgent)
}

// RobotsFetcher retrieves and parses one robots.txt.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, robotsURL string) (*RobotsPolicy, error)
}

// PolicySource resolves the robots policy for a robots.txt URL.
type PolicySource interface {
	PolicyFor(ctx context.Context, robotsURL string) (*RobotsPolicy, error)
}

// HTTPRobotsFetcher fetches robots.txt with a plain GET.
type HTTPRobotsFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPRobotsFetcher builds a fetcher that goes through the same scheme to
// proxy mapping the checks use. A timeout of zero means defaultRobotsTimeout.
func NewHTTPRobotsFetcher(userAgent string, proxies map[string]string, timeout time.Duration) *HTTPRobotsFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		route, ok := ResolveProxy(req.URL.Scheme, proxies)
		if !ok {
			return nil, nil
		}
		return &url.URL{Scheme: "http", Host: route.Host}, nil
	}
	if timeout <= 0 {
		timeout = defaultRobotsTimeout
	}
	return &HTTPRobotsFetcher{
		Client:    &http.Client{Timeout: timeout, Transport: transport},
		UserAgent: userAgent,
	}
}

// FetchRobots implements RobotsFetcher.
func (f *HTTPRobotsFetcher) FetchRobots(ctx context.Context, robotsURL string) (*RobotsPolicy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRobotsTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", robotsURL, err)
	}
	return NewRobotsPolicy(robotsURL, resp.StatusCode, body)
}

// RobotsCache holds one policy per robots.txt URL for the life of the
// process. Concurrent first lookups of the same key share a single fetch.
// Failed fetches are not stored.
type RobotsCache struct {
	fetcher RobotsFetcher

	mu       sync.RWMutex
	policies map[string]*RobotsPolicy

	inflight singleflight.Group
}

// NewRobotsCache creates an empty cache backed by fetcher.
func NewRobotsCache(fetcher RobotsFetcher) *RobotsCache {
	return &RobotsCache{
		fetcher:  fetcher,
		policies: make(map[string]*RobotsPolicy),
	}
}

// PolicyFor returns the cached policy for robotsURL, fetching it on first use.
// The shared fetch does not inherit ctx's cancellation; ctx bounds only this
// caller's wait.
func (c *RobotsCache) PolicyFor(ctx context.Context, robotsURL string) (*RobotsPolicy, error) {
	if p, ok := c.lookup(robotsURL); ok {
		return p, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(robotsURL, func() (any, error) {
		// A flight that finished between lookup and DoChan has already stored it.
		if p, ok := c.lookup(robotsURL); ok {
			return p, nil
		}
		p, err := c.fetcher.FetchRobots(fetchCtx, robotsURL)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.policies[robotsURL] = p
		c.mu.Unlock()
		return p, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*RobotsPolicy), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of cached policies.
func (c *RobotsCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.policies)
}

func (c *RobotsCache) lookup(key string) (*RobotsPolicy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.policies[key]
	return p, ok
}
