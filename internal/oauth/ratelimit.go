package oauth

import (
	"fmt"
	"sync"
	"time"
)

// attemptEntry tracks consecutive password failures from one caller.
type attemptEntry struct {
	attempts    int
	lockedUntil time.Time // zero means not locked
}

// attemptLimiter is a per-caller brute-force counter with a lockout window.
// Attempts only increment on failed credential checks; reaching maxAttempts
// locks the caller out for the window. A successful check clears the entry.
// Entries whose lockout has expired self-heal on the next Check.
type attemptLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	entries     map[string]*attemptEntry
	now         func() time.Time // injectable for tests
}

func newAttemptLimiter(maxAttempts int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		entries:     make(map[string]*attemptEntry),
		now:         time.Now,
	}
}

// Check reports whether the caller is currently locked out. When locked it
// returns a human-readable message with the remaining wait. When a stale
// lockout has expired the entry is dropped, as if the caller had never
// failed.
func (l *attemptLimiter) Check(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		return "", false
	}
	if entry.lockedUntil.IsZero() {
		return "", false
	}
	now := l.now()
	if now.Before(entry.lockedUntil) {
		remaining := entry.lockedUntil.Sub(now).Round(time.Second)
		return fmt.Sprintf("too many failed attempts, try again in %s", remaining), true
	}
	// Lockout expired; forget the caller entirely.
	delete(l.entries, id)
	return "", false
}

// RecordFailure increments the caller's failure count, creating the entry on
// first failure. Returns true when this failure triggers a lockout.
func (l *attemptLimiter) RecordFailure(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[id]
	if !ok {
		entry = &attemptEntry{}
		l.entries[id] = entry
	}
	entry.attempts++
	if entry.attempts >= l.maxAttempts {
		entry.lockedUntil = l.now().Add(l.window)
		return true
	}
	return false
}

// Clear deletes the caller's entry. Called on successful authentication so
// the next failure starts counting from one again.
func (l *attemptLimiter) Clear(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, id)
}
