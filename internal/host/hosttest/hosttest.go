// Package hosttest provides an in-memory host.Host for unit tests.
package hosttest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/polzovatel/browser-pilot/internal/host"
)

const DefaultTarget host.TargetID = "target-1"

// Host records every dispatched event and answers scripts through Script.
type Host struct {
	mu sync.Mutex

	ID  host.TargetID
	url string

	// Script answers Evaluate calls; the returned value is JSON encoded.
	Script func(script string, arg any) (any, error)
	// OnMouse and OnKey run after an event is recorded.
	OnMouse func(h *Host, ev host.MouseEvent)
	OnKey   func(h *Host, ev host.KeyEvent)
	// OnUpdate runs instead of setting the URL directly when non-nil.
	OnUpdate func(h *Host, url string)

	AttachErr     error
	Screenshot    []byte
	ScreenshotErr error
	HistoryIndex  int
	HistoryList   []host.NavigationEntry
	HistoryErr    error
	// OnHistoryEntry runs when a history entry is navigated to.
	OnHistoryEntry func(h *Host, id int64)

	Mouse    []host.MouseEvent
	Keys     []host.KeyEvent
	Attaches int
	Detaches int
	Updates  []string
	Scripts  []string

	removeOnce sync.Once
	removed    chan struct{}
}

func New(url string) *Host {
	return &Host{ID: DefaultTarget, url: url, removed: make(chan struct{})}
}

func (h *Host) SetURL(url string) {
	h.mu.Lock()
	h.url = url
	h.mu.Unlock()
}

func (h *Host) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

// Remove simulates the target disappearing.
func (h *Host) Remove() {
	h.removeOnce.Do(func() { close(h.removed) })
}

func (h *Host) gone() bool {
	select {
	case <-h.removed:
		return true
	default:
		return false
	}
}

// Events returns the number of input events dispatched so far.
func (h *Host) Events() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Mouse) + len(h.Keys)
}

func (h *Host) Attach(ctx context.Context, id host.TargetID) (host.Lease, error) {
	if id != h.ID {
		return nil, host.ErrUnknownTarget
	}
	if h.gone() {
		return nil, host.ErrTargetClosed
	}
	if h.AttachErr != nil {
		return nil, h.AttachErr
	}
	h.mu.Lock()
	h.Attaches++
	h.mu.Unlock()
	return &lease{h: h}, nil
}

func (h *Host) Evaluate(ctx context.Context, id host.TargetID, script string, arg any) ([]byte, error) {
	if h.gone() {
		return nil, host.ErrTargetClosed
	}
	h.mu.Lock()
	h.Scripts = append(h.Scripts, script)
	fn := h.Script
	h.mu.Unlock()
	if fn == nil {
		return []byte("null"), nil
	}
	val, err := fn(script, arg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(val)
}

func (h *Host) Get(ctx context.Context, id host.TargetID) (host.TargetInfo, error) {
	if h.gone() {
		return host.TargetInfo{}, host.ErrTargetClosed
	}
	return host.TargetInfo{ID: h.ID, URL: h.URL()}, nil
}

func (h *Host) Update(ctx context.Context, id host.TargetID, url string) error {
	if h.gone() {
		return host.ErrTargetClosed
	}
	h.mu.Lock()
	h.Updates = append(h.Updates, url)
	fn := h.OnUpdate
	h.mu.Unlock()
	if fn != nil {
		fn(h, url)
		return nil
	}
	h.SetURL(url)
	return nil
}

func (h *Host) Removed(id host.TargetID) <-chan struct{} {
	return h.removed
}

type lease struct {
	h        *Host
	detached bool
}

func (l *lease) DispatchMouseEvent(ctx context.Context, ev host.MouseEvent) error {
	if l.detached {
		return host.ErrNotAttached
	}
	l.h.mu.Lock()
	l.h.Mouse = append(l.h.Mouse, ev)
	fn := l.h.OnMouse
	l.h.mu.Unlock()
	if fn != nil {
		fn(l.h, ev)
	}
	return nil
}

func (l *lease) DispatchKeyEvent(ctx context.Context, ev host.KeyEvent) error {
	if l.detached {
		return host.ErrNotAttached
	}
	l.h.mu.Lock()
	l.h.Keys = append(l.h.Keys, ev)
	fn := l.h.OnKey
	l.h.mu.Unlock()
	if fn != nil {
		fn(l.h, ev)
	}
	return nil
}

func (l *lease) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	if l.detached {
		return nil, host.ErrNotAttached
	}
	return l.h.Screenshot, l.h.ScreenshotErr
}

func (l *lease) NavigationHistory(ctx context.Context) (int, []host.NavigationEntry, error) {
	if l.detached {
		return 0, nil, host.ErrNotAttached
	}
	return l.h.HistoryIndex, l.h.HistoryList, l.h.HistoryErr
}

func (l *lease) NavigateToHistoryEntry(ctx context.Context, id int64) error {
	if l.detached {
		return host.ErrNotAttached
	}
	if l.h.OnHistoryEntry != nil {
		l.h.OnHistoryEntry(l.h, id)
	}
	return nil
}

func (l *lease) Detach(ctx context.Context) error {
	if l.detached {
		return nil
	}
	l.detached = true
	l.h.mu.Lock()
	l.h.Detaches++
	l.h.mu.Unlock()
	return nil
}
