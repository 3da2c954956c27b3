package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryPruneThreshold bounds the window map: once it grows past this many
// principals, stale windows are swept on the next check.
const memoryPruneThreshold = 1024

// principalWindow tracks how many requests one principal has spent in its
// current one-second window.
type principalWindow struct {
	startSec int64
	used     int
}

// MemoryLimiter throttles principals within a single process. It is the
// default limiter and the fallback while the Redis breaker is open.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*principalWindow
}

// NewMemoryLimiter constructs an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*principalWindow)}
}

// Allow spends one request from the principal's current window. A zero limit
// or empty key disables throttling for the call.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > memoryPruneThreshold {
		l.pruneStale(sec)
	}

	window, ok := l.windows[key]
	if !ok || window.startSec != sec {
		window = &principalWindow{startSec: sec}
		l.windows[key] = window
	}

	result := Result{Reset: time.Unix(sec+1, 0).UTC()}
	if window.used >= limit {
		return result, nil
	}
	window.used++
	result.Allowed = true
	result.Remaining = limit - window.used
	return result, nil
}

// pruneStale drops windows from past seconds. Caller holds the lock.
func (l *MemoryLimiter) pruneStale(sec int64) {
	for key, window := range l.windows {
		if window.startSec != sec {
			delete(l.windows, key)
		}
	}
}
