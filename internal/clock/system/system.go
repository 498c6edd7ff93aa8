// Package system is the wall clock behind run timestamps and load budgets.
package system

import "time"

// Clock reports UTC time at millisecond precision, the resolution the JSON
// summary and the postgres output share.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, truncated to the millisecond.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
