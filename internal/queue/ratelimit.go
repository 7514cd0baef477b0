package queue

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/relaygate/internal/session"
)

// window is the sliding interval over which turn acceptances are counted.
const window = time.Hour

type rateEntry struct {
	timestamps []time.Time
	concurrent int
}

// RateLimiter enforces per-session quotas: a sliding one-hour turn window
// plus a concurrency cap. State is in-memory only — quotas are soft,
// renewable limits, so losing them on restart is acceptable.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateEntry
	now     func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*rateEntry),
		now:     time.Now,
	}
}

// prune drops timestamps older than the window. Caller holds mu.
func (r *RateLimiter) prune(e *rateEntry, now time.Time) {
	cutoff := now.Add(-window)
	kept := e.timestamps[:0]
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	e.timestamps = kept
}

// TryAcquire records an acceptance if the session is within its quotas.
// Returns false with no side effect when either the hourly turn count or
// the concurrency cap is already reached. Every true return must be paired
// with exactly one Release, on every outcome of the subsequent work.
func (r *RateLimiter) TryAcquire(sessionID string, quotas session.Quotas) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	e, ok := r.entries[sessionID]
	if !ok {
		e = &rateEntry{}
		r.entries[sessionID] = e
	}
	r.prune(e, now)

	if len(e.timestamps) >= quotas.MaxTurnsPerHour {
		return false
	}
	if e.concurrent >= quotas.MaxConcurrent {
		return false
	}

	e.timestamps = append(e.timestamps, now)
	e.concurrent++
	return true
}

// Release returns a concurrency slot, floored at zero. Entries whose window
// has emptied and whose concurrency is zero are dropped so the map does not
// grow with dead sessions.
func (r *RateLimiter) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return
	}
	if e.concurrent > 0 {
		e.concurrent--
	}
	r.prune(e, r.now())
	if e.concurrent == 0 && len(e.timestamps) == 0 {
		delete(r.entries, sessionID)
	}
}

// RateStats is a point-in-time view of one session's limiter state.
type RateStats struct {
	TurnsInLastHour int `json:"turnsInLastHour"`
	Concurrent      int `json:"concurrent"`
}

// Stats returns the session's window state, or ok=false if the session has
// never acquired (or its entry has been pruned away).
func (r *RateLimiter) Stats(sessionID string) (RateStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return RateStats{}, false
	}
	r.prune(e, r.now())
	return RateStats{TurnsInLastHour: len(e.timestamps), Concurrent: e.concurrent}, true
}
