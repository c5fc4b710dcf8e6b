// Package sharedstate holds the small set of state that more than one
// worker (Synchronizer, DecisionEngine, Heartbeat) needs to read or
// mutate: whether the remote store is currently reachable, when it was
// last attempted, and the 30s on-demand reconnect rate limit.
package sharedstate

import (
	"sync"
	"time"
)

// ReconnectInterval is the minimum spacing between on-demand remote
// store probes after a failure (spec.md §4.5/§5).
const ReconnectInterval = 30 * time.Second

// State is the guarded struct behind spec.md §5's "state lock" row. A
// zero State is valid and starts out disconnected.
type State struct {
	mu            sync.RWMutex
	dbConnected   bool
	lastDbAttempt time.Time
	cacheLastSync time.Time
}

// New returns a State starting in the disconnected state.
func New() *State {
	return &State{}
}

// MarkReachable records a successful probe/query against the remote
// store.
func (s *State) MarkReachable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbConnected = true
}

// MarkUnreachable records a failed probe at the given time.
func (s *State) MarkUnreachable(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dbConnected = false
	s.lastDbAttempt = now
}

// IsConnected reports the last known reachability of the remote store.
func (s *State) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbConnected
}

// CanAttempt reports whether an on-demand probe is allowed at `now`:
// true if the store is currently believed connected, or if at least
// ReconnectInterval has elapsed since the last failed attempt.
func (s *State) CanAttempt(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dbConnected {
		return true
	}
	if s.lastDbAttempt.IsZero() {
		return true
	}
	return now.Sub(s.lastDbAttempt) >= ReconnectInterval
}

// SetCacheSync records the time of the last successful cache sync.
func (s *State) SetCacheSync(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheLastSync = now
}

// CacheAge returns how long it has been since the last successful
// cache sync, or a very large duration if never synced.
func (s *State) CacheAge(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cacheLastSync.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.cacheLastSync)
}
