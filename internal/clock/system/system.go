// Package system supplies the clocks that stamp runs, events and summaries.
package system

import "time"

// Clock reads the wall clock in UTC.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now implements archive.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Runs driven by it publish
// reproducible summaries.
type Fixed struct {
	At time.Time
}

// Now implements archive.Clock.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
