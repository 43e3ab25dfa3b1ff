// Package navigation detects URL changes after an action and checks scroll
// boundaries before any wheel input is sent.
package navigation

import (
	"context"
	"strings"
	"time"
)

const (
	PollInterval = 100 * time.Millisecond

	ClickTimeout = 2 * time.Second
	BackTimeout  = 3 * time.Second
	OpenTimeout  = 4 * time.Second
)

// URLFunc reads the current URL of the bound target.
type URLFunc func(ctx context.Context) (string, error)

// Tracker polls a target's URL. A wait always runs until it observes a
// match or its own timeout elapses; read errors count as "no change yet".
type Tracker struct {
	Interval time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now, time.Sleep)
}

// NewTrackerWithClock is NewTracker with an injected clock.
func NewTrackerWithClock(now func() time.Time, sleep func(time.Duration)) *Tracker {
	return &Tracker{Interval: PollInterval, now: now, sleep: sleep}
}

// WaitForChange returns the first URL that differs from baseline.
func (t *Tracker) WaitForChange(ctx context.Context, read URLFunc, baseline string, timeout time.Duration) (string, bool) {
	return t.poll(ctx, read, timeout, func(u string) bool { return u != baseline })
}

// WaitForPrefix returns the first URL starting with prefix.
func (t *Tracker) WaitForPrefix(ctx context.Context, read URLFunc, prefix string, timeout time.Duration) (string, bool) {
	return t.poll(ctx, read, timeout, func(u string) bool { return strings.HasPrefix(u, prefix) })
}

func (t *Tracker) poll(ctx context.Context, read URLFunc, timeout time.Duration, match func(string) bool) (string, bool) {
	deadline := t.now().Add(timeout)
	for t.now().Before(deadline) {
		t.sleep(t.Interval)
		u, err := read(ctx)
		if err == nil && u != "" && match(u) {
			return u, true
		}
	}
	return "", false
}
