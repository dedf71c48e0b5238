package ratelimiter

import (
	"sync"
	"time"
)

// PooledRateLimiter keeps one token bucket per caller so a single noisy user
// cannot starve the command surface.
type PooledRateLimiter struct {
	limiters map[string]*pooledEntry
	mutex    sync.Mutex
	rps      int
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type pooledEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewPooledRateLimiter creates a pool. Buckets idle longer than idleTTL are
// dropped on the next Sweep.
func NewPooledRateLimiter(rps, burst int, idleTTL time.Duration) *PooledRateLimiter {
	return &PooledRateLimiter{
		limiters: make(map[string]*pooledEntry),
		rps:      rps,
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// TryAcquire reports whether key may proceed now.
func (p *PooledRateLimiter) TryAcquire(key string) bool {
	return p.getLimiter(key).TryAcquire()
}

func (p *PooledRateLimiter) getLimiter(key string) *RateLimiter {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	entry, ok := p.limiters[key]
	if !ok {
		entry = &pooledEntry{limiter: NewRateLimiterFromRPS(p.rps, p.burst)}
		p.limiters[key] = entry
	}
	entry.lastSeen = p.now()
	return entry.limiter
}

// Sweep drops idle buckets and returns how many were removed.
func (p *PooledRateLimiter) Sweep() int {
	if p.idleTTL <= 0 {
		return 0
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := p.now().Add(-p.idleTTL)
	removed := 0
	for key, entry := range p.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(p.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked callers.
func (p *PooledRateLimiter) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.limiters)
}
