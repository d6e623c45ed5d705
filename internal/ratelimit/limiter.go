// Package ratelimit throttles per-user request rates with a sliding
// window over recent request timestamps.
package ratelimit

import (
	"sync"
	"time"
)

type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	hits   map[int64][]time.Time
	now    func() time.Time
}

func New(window time.Duration, limit int) *Limiter {
	return &Limiter{
		window: window,
		limit:  limit,
		hits:   make(map[int64][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether the request fits under the cap and records it
// if so. Denied attempts do not extend the lockout. Privileged users
// bypass the cap and leave no trace.
func (l *Limiter) Allow(userID int64, privileged bool) bool {
	if privileged {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := prune(l.hits[userID], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[userID] = recent
		return false
	}
	l.hits[userID] = append(recent, now)
	return true
}

// Sweep drops users whose every recorded request already left the
// window. Called on a fixed interval to bound memory; it never blocks on
// anything but the map mutex.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for userID, stamps := range l.hits {
		recent := prune(stamps, cutoff)
		if len(recent) == 0 {
			delete(l.hits, userID)
			continue
		}
		l.hits[userID] = recent
	}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}
