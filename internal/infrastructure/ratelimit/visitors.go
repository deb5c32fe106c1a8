package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitor is one client's token bucket and when it was last used
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// VisitorLimiter is a thread-safe set of per-client token buckets. Buckets
// idle for longer than the TTL are dropped by a background sweep.
type VisitorLimiter struct {
	visitors map[string]*visitor
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewVisitorLimiter allows perMinute requests per client with the given
// burst. The sweep runs every ttl/2.
func NewVisitorLimiter(perMinute, burst int, ttl time.Duration) *VisitorLimiter {
	if burst < 1 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	l := &VisitorLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go l.cleanupExpired(ttl / 2)

	return l
}

// Allow reports whether the client identified by key may proceed now
func (l *VisitorLimiter) Allow(key string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()

	return v.limiter.AllowN(v.lastSeen, 1)
}

// cleanupExpired removes idle visitors periodically until Close is called
func (l *VisitorLimiter) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *VisitorLimiter) evictIdle() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := l.now().Add(-l.ttl)
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// Size returns the number of tracked clients (for debugging/monitoring)
func (l *VisitorLimiter) Size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.visitors)
}

// Close stops the background sweep
func (l *VisitorLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}
