// Package system provides the wall clock used for run timestamps.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC and truncated to whole
// seconds, the resolution of output object names.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
