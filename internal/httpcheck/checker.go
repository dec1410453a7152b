package httpcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	// MaxRedirects bounds the redirect hops followed in one check.
	MaxRedirects = 5

	// MaxAuthRetries bounds re-attempts once a credential is attached.
	MaxAuthRetries = 1

	// MaxProxySwitches bounds 305 Use Proxy reroutes in one check.
	MaxProxySwitches = 1
)

// Messages attached to results.
const (
	MsgMissingSlash   = "Missing '/' at end of URL"
	MsgRobotsDenied   = "Access denied by robots.txt, checked only syntax"
	MsgPermanent      = "HTTP 301 (moved permanent) encountered: you should update this link"
	MsgRedirectLimit  = "redirect limit exceeded"
	msgEffectiveURLFm = "Effective URL %s"
)

// Config is the per-run configuration of a Checker.
type Config struct {
	// Proxies maps a URL scheme to a proxy URL.
	Proxies map[string]string

	// RobotsTxt enables the robots.txt gate.
	RobotsTxt bool

	UserAgent string

	// Credentials answers 401 challenges. Nil means 401 is final.
	Credentials CredentialSource
}

// Checker runs checks. It holds no per-check state and is safe for
// concurrent use as long as its collaborators are.
type Checker struct {
	cfg    Config
	exec   Attempter
	robots PolicySource
	quirks []QuirkRule
	log    *slog.Logger
}

// Option customises a Checker.
type Option func(*Checker)

// WithQuirks replaces DefaultQuirks.
func WithQuirks(rules []QuirkRule) Option {
	return func(c *Checker) { c.quirks = rules }
}

// WithLogger sets the logger used for per-attempt debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) { c.log = l }
}

// NewChecker creates a Checker. robots may be nil when cfg.RobotsTxt is false.
func NewChecker(cfg Config, exec Attempter, robots PolicySource, opts ...Option) *Checker {
	c := &Checker{
		cfg:    cfg,
		exec:   exec,
		robots: robots,
		quirks: DefaultQuirks,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "httpcheck")
	return c
}

// transition is what the machine does after inspecting an outcome.
type transition int

const (
	transDone transition = iota
	transUseProxy
	transRedirect
	transRedirectLimit
	transAuthenticate
	transRetryAuth
	transFallback
)

func (t transition) String() string {
	switch t {
	case transDone:
		return "done"
	case transUseProxy:
		return "use-proxy"
	case transRedirect:
		return "redirect"
	case transRedirectLimit:
		return "redirect-limit"
	case transAuthenticate:
		return "authenticate"
	case transRetryAuth:
		return "retry-auth"
	case transFallback:
		return "method-fallback"
	default:
		return fmt.Sprintf("transition(%d)", int(t))
	}
}

// check is the state of one Run. It is never shared.
type check struct {
	*Checker

	origin *Target
	target *Target
	method string

	proxy         string // configured route for the target's scheme
	proxyOverride string // one-shot route from a 305
	lastProxy     string

	cred          *Credential
	credAuthority string // authority that issued the challenge
	credFetched   bool

	redirects     int
	authRetries   int
	proxySwitches int
	permanent     bool

	fallback string // method chosen by the last fallback decision

	res *Result
}

// Run checks rawURL and returns its result. Transport failures end the check
// as Invalid; every other condition is resolved inside the loop.
func (c *Checker) Run(ctx context.Context, rawURL string) *Result {
	res := &Result{URL: rawURL, EffectiveURL: rawURL}

	target, err := ParseTarget(rawURL)
	if err != nil {
		res.setInvalid(err.Error())
		res.Err = err
		return res
	}

	st := &check{
		Checker: c,
		origin:  target,
		target:  target,
		method:  http.MethodHead,
		res:     res,
	}
	if route, ok := ResolveProxy(target.Scheme(), c.cfg.Proxies); ok {
		st.proxy = route.Host
	}

	if target.Path() == "" {
		res.warn(MsgMissingSlash)
	}

	if c.cfg.RobotsTxt && !st.robotsAllow(ctx) {
		res.warn(MsgRobotsDenied)
		res.Verdict = Warning
		res.Message = MsgRobotsDenied
		return res
	}

	return st.loop(ctx)
}

func (st *check) robotsAllow(ctx context.Context) bool {
	if st.robots == nil {
		return true
	}
	policy, err := st.robots.PolicyFor(ctx, st.target.RobotsURL())
	if err != nil {
		st.log.Warn("robots.txt unavailable, assuming allowed", "url", st.target.RobotsURL(), "error", err)
		return true
	}
	return policy.CanFetch(st.cfg.UserAgent, st.target.String())
}

func (st *check) loop(ctx context.Context) *Result {
	out, err := st.attempt(ctx)
	for err == nil {
		tr := st.next(out)
		st.log.Debug("attempt",
			"url", st.target.String(),
			"method", st.method,
			"status", out.StatusCode,
			"proxy", st.lastProxy,
			"transition", tr.String(),
		)

		switch tr {
		case transDone:
			return st.finish(out)

		case transRedirectLimit:
			st.finalizeURL()
			st.res.StatusCode = out.StatusCode
			st.res.setInvalid(MsgRedirectLimit)
			return st.res

		case transUseProxy:
			st.proxySwitches++
			st.proxyOverride = ProxyHost(out.Location())

		case transRedirect:
			next, rerr := st.target.Resolve(out.Location())
			if rerr != nil {
				st.finalizeURL()
				st.res.StatusCode = out.StatusCode
				st.res.setInvalid(rerr.Error())
				return st.res
			}
			st.redirects++
			if out.StatusCode == http.StatusMovedPermanently {
				st.permanent = true
			}
			if st.cred != nil && next.Authority() != st.credAuthority {
				st.cred = nil
			}
			st.target = next
			st.method = http.MethodHead

		case transAuthenticate:
			st.credFetched = true
			cred, cerr := st.cfg.Credentials.CredentialFor(ctx, st.target)
			if cerr != nil {
				st.log.Warn("no credential for challenge", "url", st.target.String(), "error", cerr)
				return st.finish(out)
			}
			st.cred = &cred
			st.credAuthority = st.target.Authority()

		case transRetryAuth:
			st.authRetries++

		case transFallback:
			st.method = st.fallback
		}

		out, err = st.attempt(ctx)
	}

	st.finalizeURL()
	st.res.Err = err
	st.res.setInvalid(err.Error())
	return st.res
}

// next picks the transition for out. Each trigger has its own bound so the
// loop always terminates.
func (st *check) next(out *Outcome) transition {
	switch out.StatusCode {
	case http.StatusUseProxy:
		if out.Location() != "" && st.proxySwitches < MaxProxySwitches && ProxyHost(out.Location()) != "" {
			return transUseProxy
		}
		return transDone

	case http.StatusMovedPermanently, http.StatusFound:
		if out.Location() == "" {
			return transDone
		}
		if st.redirects >= MaxRedirects {
			return transRedirectLimit
		}
		return transRedirect

	case http.StatusUnauthorized:
		if !st.credFetched && st.cfg.Credentials != nil {
			return transAuthenticate
		}
		if st.cred != nil && st.authRetries < MaxAuthRetries {
			return transRetryAuth
		}
		return transDone

	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		if st.method == http.MethodHead {
			st.fallback = http.MethodGet
			return transFallback
		}
		return transDone
	}

	if st.method == http.MethodHead {
		if rule, ok := matchQuirk(st.quirks, out); ok && rule.Method != st.method {
			st.log.Debug("server quirk detected", "rule", rule.Name, "url", st.target.String())
			st.fallback = rule.Method
			return transFallback
		}
	}
	return transDone
}

func (st *check) attempt(ctx context.Context) (*Outcome, error) {
	proxy := st.proxy
	if st.proxyOverride != "" {
		proxy = st.proxyOverride
		st.proxyOverride = ""
	}
	st.lastProxy = proxy
	st.res.Attempts++
	return st.exec.Attempt(ctx, st.target, st.method, proxy, st.cred)
}

// finalizeURL records the effective URL and the redirect warnings.
func (st *check) finalizeURL() {
	if effective := st.target.String(); effective != st.origin.String() {
		st.res.warn(fmt.Sprintf(msgEffectiveURLFm, effective))
		st.res.EffectiveURL = effective
	}
	if st.permanent {
		st.res.warn(MsgPermanent)
	}
}

// finish maps the final status to the verdict.
func (st *check) finish(out *Outcome) *Result {
	st.finalizeURL()
	res := st.res
	res.StatusCode = out.StatusCode
	res.HTML = out.IsHTML()

	switch {
	case out.StatusCode >= http.StatusBadRequest:
		res.setInvalid(fmt.Sprintf("%d %s", out.StatusCode, out.StatusText))
	default:
		if out.StatusCode == http.StatusNoContent {
			res.warn(out.StatusText)
		}
		if out.StatusCode >= http.StatusOK {
			res.setValid(fmt.Sprintf("%d %s", out.StatusCode, out.StatusText))
		} else {
			res.setValid("OK")
		}
	}
	return res
}
