// Package host defines the channels the engine uses to reach a browser
// target and provides playwright and chromedp backed implementations.
package host

import (
	"context"
	"errors"
)

var (
	ErrTargetClosed  = errors.New("host: target closed")
	ErrNotAttached   = errors.New("host: command outside attach")
	ErrUnknownTarget = errors.New("host: unknown target")
)

// TargetID identifies the single page a session is bound to.
type TargetID string

type MouseEventType string

const (
	MouseMoved    MouseEventType = "mouseMoved"
	MousePressed  MouseEventType = "mousePressed"
	MouseReleased MouseEventType = "mouseReleased"
	MouseWheel    MouseEventType = "mouseWheel"
)

type MouseEvent struct {
	Type       MouseEventType
	X, Y       float64
	Button     string // "left" or "none"
	Buttons    int
	ClickCount int
	DeltaX     float64
	DeltaY     float64
	Modifiers  int
}

type KeyEventType string

const (
	KeyDown KeyEventType = "keyDown"
	KeyUp   KeyEventType = "keyUp"
)

type KeyEvent struct {
	Type           KeyEventType
	Text           string
	Key            string
	Code           string
	VirtualKeyCode int
	Modifiers      int
}

type NavigationEntry struct {
	ID  int64
	URL string
}

// Lease is an attached control channel. Every command fails with
// ErrNotAttached once Detach has been called.
type Lease interface {
	DispatchMouseEvent(ctx context.Context, ev MouseEvent) error
	DispatchKeyEvent(ctx context.Context, ev KeyEvent) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	NavigationHistory(ctx context.Context) (current int, entries []NavigationEntry, err error)
	NavigateToHistoryEntry(ctx context.Context, id int64) error
	Detach(ctx context.Context) error
}

type ControlChannel interface {
	Attach(ctx context.Context, id TargetID) (Lease, error)
}

// ScriptRunner evaluates a JavaScript function expression with one JSON
// serializable argument inside the target document and returns the JSON
// encoded result.
type ScriptRunner interface {
	Evaluate(ctx context.Context, id TargetID, script string, arg any) ([]byte, error)
}

type TargetInfo struct {
	ID  TargetID
	URL string
}

type Directory interface {
	Get(ctx context.Context, id TargetID) (TargetInfo, error)
	// Update issues a navigation; it does not wait for the load to finish.
	Update(ctx context.Context, id TargetID, url string) error
	// Removed is closed once the target disappears.
	Removed(id TargetID) <-chan struct{}
}

// Host bundles every channel a session needs.
type Host interface {
	ControlChannel
	ScriptRunner
	Directory
}
