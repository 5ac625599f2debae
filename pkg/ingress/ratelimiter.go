package ingress

import (
	"sync"
	"time"
)

const window = time.Minute

// RateLimiter is a per-IP sliding window limiter.
type RateLimiter struct {
	mu     sync.Mutex
	limits map[string][]time.Time
	max    int
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter allows maxPerMinute requests per IP and sweeps idle IPs
// every five minutes.
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		limits: make(map[string][]time.Time),
		max:    maxPerMinute,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go rl.sweepLoop(5 * time.Minute)
	return rl
}

// Allow records a request from ip and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := prune(rl.limits[ip], now)
	if len(recent) >= rl.max {
		rl.limits[ip] = recent
		return false
	}
	rl.limits[ip] = append(recent, now)
	return true
}

// RetryAfter returns whole seconds until ip may send again.
func (rl *RateLimiter) RetryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	requests := rl.limits[ip]
	if len(requests) == 0 {
		return 0
	}
	wait := window - rl.now().Sub(requests[0])
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Second - 1) / time.Second)
}

func prune(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= window {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, requests := range rl.limits {
		if recent := prune(requests, now); len(recent) == 0 {
			delete(rl.limits, ip)
		} else {
			rl.limits[ip] = recent
		}
	}
}

func (rl *RateLimiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the sweeper.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
