package caster

import "sync"

// UserLimiter enforces the per-user concurrent connection cap.
type UserLimiter struct {
	max int

	mu    sync.Mutex
	conns map[string]int
}

// NewUserLimiter creates a limiter allowing max concurrent connections
// per username.
func NewUserLimiter(max int) *UserLimiter {
	return &UserLimiter{
		max:   max,
		conns: make(map[string]int),
	}
}

// Acquire reserves a slot for the user. Returns false when the user is
// at the cap.
func (l *UserLimiter) Acquire(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns[username] >= l.max {
		return false
	}
	l.conns[username]++
	return true
}

// Release frees a previously acquired slot.
func (l *UserLimiter) Release(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns[username] <= 1 {
		delete(l.conns, username)
	} else {
		l.conns[username]--
	}
}

// Count reports the user's current connection count.
func (l *UserLimiter) Count(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[username]
}
