package checker

import (
	"context"
	"log"
	"sync"
	"time"

	"linkcheck/internal/storage"
)

// Options tunes the scheduler and its worker pool.
type Options struct {
	Interval       time.Duration
	MaxConcurrency int
	// MaxPerHost is the number of checks allowed against one host at once.
	MaxPerHost   int
	CheckTimeout time.Duration
	// RateLimit is the number of checks started per second; 0 disables it.
	RateLimit float64
}

// Checker periodically submits every stored target to the worker pool.
type Checker struct {
	store         storage.Storer
	pool          *WorkerPool
	checkInterval time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// New creates a Checker whose pool runs checks with runner.
func New(store storage.Storer, runner Runner, opts Options) *Checker {
	return &Checker{
		store:         store,
		pool:          NewWorkerPool(store, runner, opts),
		checkInterval: opts.Interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic checking process.
func (c *Checker) Start() {
	log.Printf("starting background checker with interval: %s", c.checkInterval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.checkInterval)
		defer ticker.Stop()

		c.scheduleChecks()

		for {
			select {
			case <-ticker.C:
				c.scheduleChecks()
			case <-c.stopChan:
				log.Println("stopping background checker...")
				c.pool.Stop()
				return
			}
		}
	}()
}

// Stop shuts down the scheduler and its worker pool. It is safe to call more than once.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.pool.Stop()
		log.Println("background checker stopped")
	})
}

func (c *Checker) scheduleChecks() {
	targets, err := c.store.GetAllTargets(context.Background())
	if err != nil {
		log.Printf("error fetching targets for checking: %v", err)
		return
	}

	if len(targets) == 0 {
		log.Println("no targets to check")
		return
	}

	for _, t := range targets {
		c.pool.Submit(t)
	}
	log.Printf("submitted %d targets for checking", len(targets))
}
