package checker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linkcheck/internal/httpcheck"
	"linkcheck/internal/models"
	"linkcheck/internal/storage"
)

// memStore keeps check results in memory; only the methods the pool and
// scheduler use do real work.
type memStore struct {
	mu      sync.Mutex
	targets []models.Target
	results []models.CheckResult
}

func (m *memStore) CreateTarget(ctx context.Context, t *models.Target, key *string) (*models.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, *t)
	return t, nil
}

func (m *memStore) GetTargetByID(ctx context.Context, id string) (*models.Target, error) {
	return nil, storage.ErrNotFound
}

func (m *memStore) ListTargets(ctx context.Context, p storage.ListTargetsParams) ([]models.Target, error) {
	return nil, nil
}

func (m *memStore) GetAllTargets(ctx context.Context) ([]models.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Target(nil), m.targets...), nil
}

func (m *memStore) CreateCheckResult(ctx context.Context, r *models.CheckResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, *r)
	return nil
}

func (m *memStore) ListCheckResultsByTargetID(ctx context.Context, p storage.ListCheckResultsParams) ([]models.CheckResult, error) {
	return nil, nil
}

func (m *memStore) snapshot() []models.CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.CheckResult(nil), m.results...)
}

type runnerFunc func(ctx context.Context, rawURL string) *httpcheck.Result

func (f runnerFunc) Run(ctx context.Context, rawURL string) *httpcheck.Result { return f(ctx, rawURL) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func target(id, url, host string) models.Target {
	return models.Target{ID: id, URL: url, CanonicalURL: url, Host: host}
}

func TestWorkerPoolRetries(t *testing.T) {
	tests := []struct {
		name      string
		result    httpcheck.Result
		wantCalls int32
	}{
		{
			name:      "connection error is retried",
			result:    httpcheck.Result{Verdict: httpcheck.Invalid, Err: &httpcheck.ConnectionError{Op: "dial", Addr: "x:80", Err: errors.New("refused")}},
			wantCalls: maxAttempts,
		},
		{
			name:      "server error is retried",
			result:    httpcheck.Result{Verdict: httpcheck.Invalid, StatusCode: 503, Message: "503 Service Unavailable"},
			wantCalls: maxAttempts,
		},
		{
			name:      "client error is final",
			result:    httpcheck.Result{Verdict: httpcheck.Invalid, StatusCode: 404, Message: "404 Not Found"},
			wantCalls: 1,
		},
		{
			name:      "valid is final",
			result:    httpcheck.Result{Verdict: httpcheck.Valid, StatusCode: 200, Message: "200 OK"},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			store := &memStore{}
			runner := runnerFunc(func(ctx context.Context, rawURL string) *httpcheck.Result {
				calls.Add(1)
				res := tt.result
				res.URL, res.EffectiveURL = rawURL, rawURL
				return &res
			})
			pool := NewWorkerPool(store, runner, Options{MaxConcurrency: 2, CheckTimeout: time.Second})
			pool.backoff = time.Millisecond
			defer pool.Stop()

			pool.Submit(target("t_1", "http://example.com/", "example.com"))
			waitFor(t, func() bool { return len(store.snapshot()) == 1 })

			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("expected %d runs, got %d", tt.wantCalls, got)
			}
			stored := store.snapshot()[0]
			if stored.Verdict != tt.result.Verdict.String() {
				t.Errorf("stored verdict %q, want %q", stored.Verdict, tt.result.Verdict)
			}
		})
	}
}

func TestWorkerPoolOneCheckPerHost(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	store := &memStore{}
	runner := runnerFunc(func(ctx context.Context, rawURL string) *httpcheck.Result {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return &httpcheck.Result{URL: rawURL, EffectiveURL: rawURL, Verdict: httpcheck.Valid, StatusCode: 200}
	})
	pool := NewWorkerPool(store, runner, Options{MaxConcurrency: 4, CheckTimeout: time.Second})

	pool.Submit(target("t_1", "http://example.com/a", "example.com"))
	waitFor(t, func() bool { return running.Load() == 1 })
	pool.Submit(target("t_2", "http://example.com/b", "example.com"))
	pool.Submit(target("t_3", "http://other.test/", "other.test"))
	waitFor(t, func() bool { return running.Load() == 2 })

	close(release)
	waitFor(t, func() bool { return len(store.snapshot()) == 2 })
	pool.Stop()

	if peak.Load() != 2 {
		t.Errorf("expected 2 concurrent checks (one per host), saw %d", peak.Load())
	}
	if got := len(store.snapshot()); got != 2 {
		t.Errorf("expected the busy host's second target to be skipped, got %d results", got)
	}
}

func TestWorkerPoolMaxPerHost(t *testing.T) {
	var running atomic.Int32
	release := make(chan struct{})
	store := &memStore{}
	runner := runnerFunc(func(ctx context.Context, rawURL string) *httpcheck.Result {
		running.Add(1)
		<-release
		return &httpcheck.Result{URL: rawURL, EffectiveURL: rawURL, Verdict: httpcheck.Valid, StatusCode: 200}
	})
	pool := NewWorkerPool(store, runner, Options{MaxConcurrency: 4, MaxPerHost: 2, CheckTimeout: time.Second})

	pool.Submit(target("t_1", "http://example.com/a", "example.com"))
	pool.Submit(target("t_2", "http://example.com/b", "example.com"))
	waitFor(t, func() bool { return running.Load() == 2 })
	if got := pool.hostLimiter.Active("example.com"); got != 2 {
		t.Errorf("expected 2 active checks for the host, got %d", got)
	}

	close(release)
	waitFor(t, func() bool { return len(store.snapshot()) == 2 })
	pool.Stop()
}

func TestWorkerPoolCheckTimeout(t *testing.T) {
	store := &memStore{}
	runner := runnerFunc(func(ctx context.Context, rawURL string) *httpcheck.Result {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline on the check context")
		}
		return &httpcheck.Result{URL: rawURL, EffectiveURL: rawURL, Verdict: httpcheck.Valid}
	})
	pool := NewWorkerPool(store, runner, Options{MaxConcurrency: 1, CheckTimeout: 50 * time.Millisecond})
	defer pool.Stop()

	pool.Submit(target("t_1", "http://example.com/", "example.com"))
	waitFor(t, func() bool { return len(store.snapshot()) == 1 })
}

func TestNewCheckResult(t *testing.T) {
	res := &httpcheck.Result{
		URL:          "http://example.com/old",
		EffectiveURL: "http://example.com/new",
		Verdict:      httpcheck.Valid,
		Message:      "200 OK",
		Warnings:     []string{"Effective URL http://example.com/new"},
		StatusCode:   200,
	}
	now := time.Now()
	got := NewCheckResult("t_1", res, now, 1500*time.Millisecond)

	if got.StatusCode == nil || *got.StatusCode != 200 {
		t.Errorf("status code = %v", got.StatusCode)
	}
	if got.Error != nil {
		t.Errorf("unexpected error %q", *got.Error)
	}
	if got.EffectiveURL == nil || *got.EffectiveURL != "http://example.com/new" {
		t.Errorf("effective URL = %v", got.EffectiveURL)
	}
	if got.LatencyMS != 1500 || got.Verdict != "valid" {
		t.Errorf("unexpected result %+v", got)
	}

	failed := NewCheckResult("t_1", &httpcheck.Result{URL: "u", EffectiveURL: "u", Verdict: httpcheck.Invalid, Err: errors.New("boom")}, now, 0)
	if failed.StatusCode != nil || failed.Error == nil || failed.EffectiveURL != nil {
		t.Errorf("unexpected failed result %+v", failed)
	}
}

func TestHostLimiter(t *testing.T) {
	hl := NewHostLimiterN(0)
	if !hl.Acquire("a") {
		t.Fatal("first acquire must succeed")
	}
	if hl.Acquire("a") {
		t.Error("second acquire for the same host must fail")
	}
	if !hl.Acquire("b") {
		t.Error("other hosts are independent")
	}
	hl.Release("a")
	if hl.Active("a") != 0 || !hl.Acquire("a") {
		t.Error("released host must be acquirable again")
	}

	two := NewHostLimiterN(2)
	two.Acquire("a")
	two.Acquire("a")
	if two.Acquire("a") || two.Active("a") != 2 {
		t.Error("expected capacity of 2")
	}
}

func TestCheckerSchedulesAllTargets(t *testing.T) {
	store := &memStore{}
	store.targets = []models.Target{
		target("t_1", "http://a.test/", "a.test"),
		target("t_2", "http://b.test/", "b.test"),
	}
	runner := runnerFunc(func(ctx context.Context, rawURL string) *httpcheck.Result {
		return &httpcheck.Result{URL: rawURL, EffectiveURL: rawURL, Verdict: httpcheck.Valid, StatusCode: 200}
	})

	c := New(store, runner, Options{Interval: time.Hour, MaxConcurrency: 2, CheckTimeout: time.Second})
	c.Start()
	waitFor(t, func() bool { return len(store.snapshot()) == 2 })
	c.Stop()
	c.Stop()
}
