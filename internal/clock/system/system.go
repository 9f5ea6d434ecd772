// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements scraper.Clock with UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
