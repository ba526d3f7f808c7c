// Package system provides the wall clock used outside of tests.
package system

import (
	"context"
	"time"
)

// Clock reads local wall time and sleeps on real timers.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time; report timestamps are meant for humans.
func (Clock) Now() time.Time {
	return time.Now()
}

// Pause blocks for delay or until ctx is done.
func (Clock) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
