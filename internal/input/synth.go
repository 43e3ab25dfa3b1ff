package input

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/polzovatel/browser-pilot/internal/geometry"
	"github.com/polzovatel/browser-pilot/internal/host"
)

const (
	DefaultMean   = 100 * time.Millisecond
	DefaultJitter = 50 * time.Millisecond
)

// Typist dispatches key steps with a jittered pause between keys.
type Typist struct {
	Mean   time.Duration
	Jitter time.Duration

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewTypist(mean, jitter time.Duration) *Typist {
	if mean < 0 {
		mean = DefaultMean
	}
	if jitter < 0 {
		jitter = DefaultJitter
	}
	return &Typist{Mean: mean, Jitter: jitter, random: rand.Float64, sleep: sleepCtx}
}

// Delay draws one inter-key pause: mean + uniform(-jitter, +jitter),
// never negative.
func (t *Typist) Delay() time.Duration {
	r := t.random()*2 - 1
	d := t.Mean + time.Duration(r*float64(t.Jitter))
	if d < 0 {
		return 0
	}
	return d
}

// Type sends every step over lease in order.
func (t *Typist) Type(ctx context.Context, lease host.Lease, steps []Step) error {
	for i, s := range steps {
		if i > 0 {
			if err := t.sleep(ctx, t.Delay()); err != nil {
				return err
			}
		}
		for _, ev := range KeyEvents(s) {
			if err := lease.DispatchKeyEvent(ctx, ev); err != nil {
				return fmt.Errorf("key %q: %w", describe(s), err)
			}
		}
	}
	return nil
}

func describe(s Step) string {
	if s.IsKey() {
		return s.Key
	}
	return s.Text
}

// ClickEvents is the primary button sequence at p: move, press, release.
func ClickEvents(p geometry.Point) []host.MouseEvent {
	return []host.MouseEvent{
		{Type: host.MouseMoved, X: p.X, Y: p.Y},
		{Type: host.MousePressed, X: p.X, Y: p.Y, Button: "left", Buttons: 1, ClickCount: 1},
		{Type: host.MouseReleased, X: p.X, Y: p.Y, Button: "left", Buttons: 0, ClickCount: 1},
	}
}

func Click(ctx context.Context, lease host.Lease, p geometry.Point) error {
	for _, ev := range ClickEvents(p) {
		if err := lease.DispatchMouseEvent(ctx, ev); err != nil {
			return fmt.Errorf("%s: %w", ev.Type, err)
		}
	}
	return nil
}

// Wheel scrolls by deltaY pixels with the pointer at (x, y).
func Wheel(ctx context.Context, lease host.Lease, x, y, deltaY float64) error {
	return lease.DispatchMouseEvent(ctx, host.MouseEvent{Type: host.MouseWheel, X: x, Y: y, DeltaY: deltaY})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
