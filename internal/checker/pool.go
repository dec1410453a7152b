package checker

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"linkcheck/internal/httpcheck"
	"linkcheck/internal/models"
	"linkcheck/internal/storage"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
)

// Runner runs one link check to its verdict. *httpcheck.Checker satisfies it.
type Runner interface {
	Run(ctx context.Context, rawURL string) *httpcheck.Result
}

// WorkerPool runs link checks concurrently and stores their results.
type WorkerPool struct {
	store        storage.Storer
	runner       Runner
	jobs         chan models.Target
	hostLimiter  *HostLimiter
	limiter      *rate.Limiter
	checkTimeout time.Duration
	backoff      time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorkerPool starts opts.MaxConcurrency workers. opts.RateLimit bounds how
// many checks start per second across all workers; zero or less means no limit.
func NewWorkerPool(store storage.Storer, runner Runner, opts Options) *WorkerPool {
	maxConcurrency := max(opts.MaxConcurrency, 1)
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		store:        store,
		runner:       runner,
		jobs:         make(chan models.Target, maxConcurrency*2),
		hostLimiter:  NewHostLimiterN(opts.MaxPerHost),
		limiter:      rate.NewLimiter(limit, 1),
		checkTimeout: opts.CheckTimeout,
		backoff:      initialBackoff,
		ctx:          ctx,
		cancel:       cancel,
	}

	pool.startWorkers(maxConcurrency)
	return pool
}

func (p *WorkerPool) startWorkers(count int) {
	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go func() {
			defer p.wg.Done()
			for target := range p.jobs {
				p.performCheck(target)
			}
		}()
	}
}

// Submit queues a target. It never blocks; a full queue drops the target
// until the next tick.
func (p *WorkerPool) Submit(target models.Target) {
	select {
	case p.jobs <- target:
	default:
		log.Printf("job queue full, skipping check for target %s", target.ID)
	}
}

// Stop drains the queue, aborts in-flight checks and waits for the workers.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.cancel()
		p.wg.Wait()
	})
}

// performCheck checks one target, retrying transient failures, and stores
// the final result.
func (p *WorkerPool) performCheck(target models.Target) {
	if !p.hostLimiter.Acquire(target.Host) {
		log.Printf("skipping check for %s, host %s already has %d checks running", target.URL, target.Host, p.hostLimiter.Active(target.Host))
		return
	}
	defer p.hostLimiter.Release(target.Host)

	var res *httpcheck.Result
	var startTime time.Time
	var latency time.Duration
	backoff := p.backoff

	for attempt := 1; ; attempt++ {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}
		startTime = time.Now()
		res = p.runOnce(target)
		latency = time.Since(startTime)

		if p.ctx.Err() != nil {
			log.Printf("check for %s aborted by shutdown", target.URL)
			return
		}
		if attempt >= maxAttempts || !retryable(res) {
			break
		}
		log.Printf("check for %s failed transiently (%s), retrying in %s", target.URL, res.Message, backoff)
		select {
		case <-time.After(backoff):
		case <-p.ctx.Done():
			return
		}
		backoff *= 2
	}

	result := NewCheckResult(target.ID, res, startTime, latency)
	if err := p.store.CreateCheckResult(context.Background(), &result); err != nil {
		log.Printf("error saving check result for target %s: %v", target.ID, err)
	}
}

func (p *WorkerPool) runOnce(target models.Target) *httpcheck.Result {
	ctx := p.ctx
	if p.checkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.checkTimeout)
		defer cancel()
	}
	return p.runner.Run(ctx, target.CanonicalURL)
}

// retryable reports whether a result may change on a second try: the
// connection failed or the server answered 5xx.
func retryable(res *httpcheck.Result) bool {
	var connErr *httpcheck.ConnectionError
	if errors.As(res.Err, &connErr) {
		return true
	}
	return res.StatusCode >= http.StatusInternalServerError && res.StatusCode <= 599
}

// NewCheckResult converts a check result into its stored form.
func NewCheckResult(targetID string, res *httpcheck.Result, checkedAt time.Time, latency time.Duration) models.CheckResult {
	out := models.CheckResult{
		TargetID:  targetID,
		CheckedAt: checkedAt.UTC(),
		LatencyMS: latency.Milliseconds(),
		Verdict:   res.Verdict.String(),
		Message:   res.Message,
		Warnings:  res.Warnings,
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		out.StatusCode = &code
	}
	if res.Err != nil {
		msg := res.Err.Error()
		out.Error = &msg
	}
	if res.EffectiveURL != res.URL {
		effective := res.EffectiveURL
		out.EffectiveURL = &effective
	}
	return out
}
