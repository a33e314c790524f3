// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance time explicitly, so
// backoff and timestamp behavior can be asserted without sleeping.
package clock

import "time"

// Clock is the subset of the time package the IPC layer needs.
// Anything that calls time.Now, time.After, or time.Sleep should take
// a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}
