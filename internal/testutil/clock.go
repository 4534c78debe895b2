// Package testutil provides the shared OSINT fixture dataset, a fixed clock and
// gateway wrappers used across package tests.
package testutil

import "time"

// Now is the instant every fixture timestamp is relative to.
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Clock returns a clock frozen at t.
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Ago formats Now-d the way PostgREST emits timestamptz columns.
func Ago(d time.Duration) string {
	return Now.Add(-d).Format(time.RFC3339)
}
