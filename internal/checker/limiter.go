package checker

import "sync"

// HostLimiter caps the number of checks running against one host at a time.
// Link checks against the same server are kept sequential so a site with
// many stored links never sees a burst from this process.
type HostLimiter struct {
	mu      sync.Mutex
	perHost int
	active  map[string]int
}

// NewHostLimiterN creates a limiter allowing n concurrent checks per host.
// n below 1 means one.
func NewHostLimiterN(n int) *HostLimiter {
	if n < 1 {
		n = 1
	}
	return &HostLimiter{perHost: n, active: make(map[string]int)}
}

// Acquire takes a slot for host without blocking. It returns false when the
// host is at capacity.
func (hl *HostLimiter) Acquire(host string) bool {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if hl.active[host] >= hl.perHost {
		return false
	}
	hl.active[host]++
	return true
}

// Release returns a slot taken by Acquire.
func (hl *HostLimiter) Release(host string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if hl.active[host] <= 1 {
		delete(hl.active, host)
		return
	}
	hl.active[host]--
}

// Active returns the number of checks currently holding a slot for host.
func (hl *HostLimiter) Active(host string) int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return hl.active[host]
}
