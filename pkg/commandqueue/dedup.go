package commandqueue

import (
	"context"
	"sync"
	"time"
)

const defaultDedupTTL = 5 * time.Minute

type taskResult struct {
	err error
}

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// dedupCache remembers task results by request id for a bounded time.
// Channels redeliver an activity when the first delivery timed out; the
// second delivery must not start a second scrum.
type dedupCache struct {
	mu      sync.RWMutex
	entries map[string]dedupEntry
	ttl     time.Duration
	now     func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries: make(map[string]dedupEntry),
		ttl:     ttl,
		now:     time.Now,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go cache.cleanup(ctx)
	return cache
}

// Stop ends the cleanup goroutine.
func (dc *dedupCache) Stop() {
	dc.cancel()
	<-dc.done
}

// Get returns the cached result for requestID if it has not expired.
func (dc *dedupCache) Get(requestID string) (taskResult, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, ok := dc.entries[requestID]
	if !ok || dc.now().Sub(entry.timestamp) > dc.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

// Set stores the result of requestID.
func (dc *dedupCache) Set(requestID string, result taskResult) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.entries[requestID] = dedupEntry{result: result, timestamp: dc.now()}
}

func (dc *dedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	interval := dc.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.evict()
		}
	}
}

func (dc *dedupCache) evict() int {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	n := 0
	for id, entry := range dc.entries {
		if now.Sub(entry.timestamp) > dc.ttl {
			delete(dc.entries, id)
			n++
		}
	}
	return n
}

// Size returns the number of cached entries.
func (dc *dedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}
