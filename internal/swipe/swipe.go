// Package swipe implements the repeat-swipe state machine: three
// accepted swipes by the same card within 30s toggle the door's
// persistent-unlocked flag.
package swipe

import (
	"sync"
	"time"
)

// RepeatWindow is how long a repeat swipe by the same user still
// counts toward the triple-swipe toggle.
const RepeatWindow = 30 * time.Second

// toggleThreshold is the repeat count (0-based, so the third swipe)
// that fires the toggle. The spec's own commentary warns this reads
// like an off-by-one; it is not — see the package tests, which assert
// the behavior ("third swipe toggles") rather than this constant.
const toggleThreshold = 2

// Action is what the caller should do in response to a grant.
type Action int

const (
	// ActionUnlockBriefly: normal grant, door was locked.
	ActionUnlockBriefly Action = iota
	// ActionAlreadyUnlocked: door is already persistently unlocked;
	// no hardware action needed, just log entry.
	ActionAlreadyUnlocked
	// ActionToggledUnlock: this was the third (or a later) repeat swipe
	// within the window; door should become persistently unlocked.
	ActionToggledUnlock
	// ActionToggledLock: this was the third (or a later) repeat swipe
	// within the window while already persistently unlocked; door
	// should become locked.
	ActionToggledLock
)

// Machine is the single per-controller swipe tracker. It is safe for
// concurrent use; two interleaved card reads for the same user never
// lose an increment. It does not itself own the persistent-unlock
// flag — DoorIO does (spec.md §4.4) — so every OnGrant call is told
// the door's current state and returns what should change it to.
type Machine struct {
	mu          sync.Mutex
	lastUser    string
	repeatCount int
	timeoutAt   time.Time
}

// New returns an empty swipe tracker.
func New() *Machine {
	return &Machine{}
}

// OnGrant records a granted decision for userID at time now, given the
// door's current persistent-unlock state, and returns what the caller
// should do with the door hardware.
func (m *Machine) OnGrant(userID string, now time.Time, currentlyUnlocked bool) Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userID == m.lastUser && !now.After(m.timeoutAt) {
		m.repeatCount++
	} else {
		m.repeatCount = 0
		m.timeoutAt = now.Add(RepeatWindow)
	}
	m.lastUser = userID

	if m.repeatCount >= toggleThreshold {
		if !currentlyUnlocked {
			return ActionToggledUnlock
		}
		return ActionToggledLock
	}

	if currentlyUnlocked {
		return ActionAlreadyUnlocked
	}
	return ActionUnlockBriefly
}

// OnDeny resets the repeat counter without disturbing lastUser, so a
// mistaken swipe followed by a successful one still counts as "new
// user" for the triple-swipe window.
func (m *Machine) OnDeny() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repeatCount = 0
	m.timeoutAt = time.Time{}
}
