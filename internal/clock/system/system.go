// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements permit.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Callers convert to the source
// timezone when they need a calendar date.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
