package navigation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t     time.Time
	polls int
}

func newFakeTracker() (*Tracker, *fakeClock) {
	c := &fakeClock{t: time.Unix(0, 0)}
	tr := &Tracker{
		Interval: PollInterval,
		now:      func() time.Time { return c.t },
		sleep: func(d time.Duration) {
			c.t = c.t.Add(d)
			c.polls++
		},
	}
	return tr, c
}

func TestWaitForChange(t *testing.T) {
	tr, clock := newFakeTracker()
	reads := 0
	read := func(context.Context) (string, error) {
		reads++
		if reads < 3 {
			return "https://a.test/", nil
		}
		return "https://b.test/", nil
	}
	u, ok := tr.WaitForChange(context.Background(), read, "https://a.test/", ClickTimeout)
	assert.True(t, ok)
	assert.Equal(t, "https://b.test/", u)
	assert.Equal(t, 3, clock.polls)
}

func TestWaitForChangeTimesOut(t *testing.T) {
	tr, clock := newFakeTracker()
	read := func(context.Context) (string, error) { return "https://a.test/", nil }
	u, ok := tr.WaitForChange(context.Background(), read, "https://a.test/", ClickTimeout)
	assert.False(t, ok)
	assert.Empty(t, u)
	assert.Equal(t, 20, clock.polls)
}

func TestWaitIgnoresReadErrors(t *testing.T) {
	tr, _ := newFakeTracker()
	reads := 0
	read := func(context.Context) (string, error) {
		reads++
		if reads == 1 {
			return "", errors.New("boom")
		}
		return "https://b.test/", nil
	}
	u, ok := tr.WaitForChange(context.Background(), read, "https://a.test/", BackTimeout)
	assert.True(t, ok)
	assert.Equal(t, "https://b.test/", u)
}

func TestWaitRunsToCompletionAfterCancel(t *testing.T) {
	tr, clock := newFakeTracker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	read := func(ctx context.Context) (string, error) { return "", ctx.Err() }
	_, ok := tr.WaitForPrefix(ctx, read, "https://x.test", OpenTimeout)
	assert.False(t, ok)
	assert.Equal(t, 40, clock.polls)
}

func TestWaitForPrefix(t *testing.T) {
	tr, _ := newFakeTracker()
	seq := []string{"about:blank", "https://example.com/"}
	i := 0
	read := func(context.Context) (string, error) {
		u := seq[i]
		if i < len(seq)-1 {
			i++
		}
		return u, nil
	}
	u, ok := tr.WaitForPrefix(context.Background(), read, "https://example.com", OpenTimeout)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/", u)
}

func TestPlanScroll(t *testing.T) {
	tests := []struct {
		name   string
		state  ScrollState
		dir    Direction
		delta  float64
		reason string
	}{
		{"top edge", ScrollState{Y: 0, MaxY: 1000, ViewportHeight: 800}, Up, 0, ReasonTop},
		{"bottom edge", ScrollState{Y: 999, MaxY: 1000, ViewportHeight: 800}, Down, 0, ReasonBottom},
		{"short page is bottom", ScrollState{Y: 0, MaxY: 0, ViewportHeight: 800}, Down, 0, ReasonBottom},
		{"down", ScrollState{Y: 0, MaxY: 1000, ViewportHeight: 800}, Down, 640, ""},
		{"up", ScrollState{Y: 500, MaxY: 1000, ViewportHeight: 800}, Up, -640, ""},
		{"minimum delta", ScrollState{Y: 0, MaxY: 1000, ViewportHeight: 40}, Down, 50, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, reason := PlanScroll(tt.state, tt.dir)
			assert.Equal(t, tt.delta, delta)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection(" Down ")
	require.NoError(t, err)
	assert.Equal(t, Down, d)
	_, err = ParseDirection("left")
	assert.Error(t, err)
}

func TestDecodeScrollState(t *testing.T) {
	s, err := DecodeScrollState([]byte(`{"y":10,"maxY":200,"vh":600,"cx":400,"cy":300}`))
	require.NoError(t, err)
	assert.Equal(t, ScrollState{Y: 10, MaxY: 200, ViewportHeight: 600, CenterX: 400, CenterY: 300}, s)
}
