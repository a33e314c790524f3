// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(epoch)
	if !c.Now().Equal(epoch) {
		t.Errorf("Now() = %v, want %v", c.Now(), epoch)
	}
	c.Advance(90 * time.Second)
	want := epoch.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Errorf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}

func TestFakeAfterFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(time.Minute)

	c.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(epoch.Add(time.Minute)) {
			t.Errorf("fired at %v, want %v", fired, epoch.Add(time.Minute))
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeSleepUnblocks(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})
	go func() {
		c.Sleep(time.Second)
		close(done)
	}()

	// Wait for the sleeper to register before advancing.
	for c.Waiters() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not unblock after Advance")
	}
}
