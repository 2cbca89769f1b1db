// Package credits accumulates the monetary cost of cloud generation calls for
// the current session and reports each charge to the remote accounting
// endpoint, degrading to a local-only status when the remote is unavailable.
package credits

import (
	"strconv"
	"sync"
)

// Session owns the running credit total for one gateway session. It is passed
// explicitly to every charge, never held as package-global state, and is safe
// for concurrent use.
type Session struct {
	mu    sync.Mutex
	total float64
}

// NewSession starts a session with a zero total.
func NewSession() *Session {
	return &Session{}
}

// add accumulates parsed credits under the session lock and returns the new
// total.
func (s *Session) add(credits float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += credits
	return s.total
}

// Total returns the current session total.
func (s *Session) Total() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Reset zeroes the session total. Explicit, caller-invoked only.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
}

// ParseCredits parses a credit amount. Unparsable or negative
// input contributes exactly 0 so a bad provider response can never corrupt or
// shrink the session total.
func ParseCredits(raw string) float64 {
	credits, err := strconv.ParseFloat(raw, 64)
	if err != nil || credits < 0 {
		return 0
	}
	return credits
}
