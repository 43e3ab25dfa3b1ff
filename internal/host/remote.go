package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const discoveryTimeout = 5 * time.Second

// RemoteHost binds one existing page of an already running Chrome through
// the DevTools protocol. A lease is an exclusive bracket over the attached
// target: Attach blocks until the previous lease is detached.
type RemoteHost struct {
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
	ctx         context.Context
	id          TargetID
	logger      zerolog.Logger

	lease chan struct{}

	once    sync.Once
	removed chan struct{}
}

// DialRemote connects to endpoint, which may be a browser websocket URL or
// the http address of the DevTools server. An empty targetID binds the
// first page target.
func DialRemote(ctx context.Context, endpoint, targetID string, logger zerolog.Logger) (*RemoteHost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wsURL, err := resolveWSURL(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("cdp: devtools endpoint: %w", err)
	}
	tid := target.ID(targetID)
	if tid == "" {
		tid, err = findPageTarget(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("cdp: no page target: %w", err)
		}
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL)
	cctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(tid))
	if err := chromedp.Run(cctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("cdp: attach to %s: %w", tid, err)
	}

	h := &RemoteHost{
		allocCancel: allocCancel,
		cancel:      cancel,
		ctx:         cctx,
		id:          TargetID(tid),
		logger:      logger.With().Str("target", string(tid)).Logger(),
		lease:       make(chan struct{}, 1),
		removed:     make(chan struct{}),
	}
	chromedp.ListenBrowser(cctx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok && e.TargetID == tid {
			h.markRemoved()
		}
	})
	chromedp.ListenTarget(cctx, func(ev any) {
		switch ev.(type) {
		case *inspector.EventDetached, *inspector.EventTargetCrashed:
			h.markRemoved()
		}
	})
	h.logger.Info().Msg("attached to remote target")
	return h, nil
}

func (h *RemoteHost) Target() TargetID { return h.id }

func (h *RemoteHost) markRemoved() {
	h.once.Do(func() {
		h.logger.Info().Msg("target removed")
		close(h.removed)
	})
}

func (h *RemoteHost) check(id TargetID) error {
	if id != h.id {
		return ErrUnknownTarget
	}
	select {
	case <-h.removed:
		return ErrTargetClosed
	default:
		return nil
	}
}

// run executes actions on the attached target, bounded by the caller's
// deadline when one is set.
func (h *RemoteHost) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rctx := h.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		rctx, cancel = context.WithDeadline(h.ctx, deadline)
		defer cancel()
	}
	if err := chromedp.Run(rctx, actions...); err != nil {
		return fmt.Errorf("cdp: %w", err)
	}
	return nil
}

func (h *RemoteHost) Attach(ctx context.Context, id TargetID) (Lease, error) {
	if err := h.check(id); err != nil {
		return nil, err
	}
	select {
	case h.lease <- struct{}{}:
		return &remoteLease{host: h}, nil
	case <-h.removed:
		return nil, ErrTargetClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *RemoteHost) Evaluate(ctx context.Context, id TargetID, script string, arg any) ([]byte, error) {
	if err := h.check(id); err != nil {
		return nil, err
	}
	argJSON, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("marshal script arg: %w", err)
	}
	expr := fmt.Sprintf("JSON.stringify((%s)(%s))", script, argJSON)
	var out string
	if err := h.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (h *RemoteHost) Get(ctx context.Context, id TargetID) (TargetInfo, error) {
	if err := h.check(id); err != nil {
		return TargetInfo{}, err
	}
	var loc string
	if err := h.run(ctx, chromedp.Location(&loc)); err != nil {
		return TargetInfo{}, err
	}
	return TargetInfo{ID: h.id, URL: loc}, nil
}

func (h *RemoteHost) Update(ctx context.Context, id TargetID, rawURL string) error {
	if err := h.check(id); err != nil {
		return err
	}
	nctx, cancel := context.WithTimeout(ctx, navIssueTimeout)
	defer cancel()
	err := h.run(nctx, chromedp.Navigate(rawURL))
	if errors.Is(err, context.DeadlineExceeded) {
		// navigation was issued, the load simply did not finish in time
		return nil
	}
	return err
}

func (h *RemoteHost) Removed(id TargetID) <-chan struct{} {
	if id != h.id {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.removed
}

// Close detaches from the target without closing the remote page.
func (h *RemoteHost) Close() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.allocCancel != nil {
		h.allocCancel()
	}
}

type remoteLease struct {
	mu       sync.Mutex
	host     *RemoteHost
	detached bool
}

func (l *remoteLease) do(ctx context.Context, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detached {
		return ErrNotAttached
	}
	return l.host.run(ctx, chromedp.ActionFunc(fn))
}

func (l *remoteLease) DispatchMouseEvent(ctx context.Context, ev MouseEvent) error {
	return l.do(ctx, func(ctx context.Context) error {
		p := input.DispatchMouseEvent(input.MouseType(ev.Type), ev.X, ev.Y).
			WithModifiers(input.Modifier(ev.Modifiers)).
			WithClickCount(int64(ev.ClickCount)).
			WithButtons(int64(ev.Buttons))
		if ev.Button != "" {
			p = p.WithButton(input.MouseButton(ev.Button))
		}
		if ev.Type == MouseWheel {
			p = p.WithDeltaX(ev.DeltaX).WithDeltaY(ev.DeltaY)
		}
		return p.Do(ctx)
	})
}

func (l *remoteLease) DispatchKeyEvent(ctx context.Context, ev KeyEvent) error {
	return l.do(ctx, func(ctx context.Context) error {
		p := input.DispatchKeyEvent(input.KeyType(ev.Type)).
			WithModifiers(input.Modifier(ev.Modifiers))
		if ev.Text != "" {
			p = p.WithText(ev.Text)
		}
		if ev.Key != "" {
			p = p.WithKey(ev.Key).
				WithCode(ev.Code).
				WithWindowsVirtualKeyCode(int64(ev.VirtualKeyCode)).
				WithNativeVirtualKeyCode(int64(ev.VirtualKeyCode))
		}
		return p.Do(ctx)
	})
}

func (l *remoteLease) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
		return err
	})
	return buf, err
}

func (l *remoteLease) NavigationHistory(ctx context.Context) (int, []NavigationEntry, error) {
	var (
		current int64
		entries []*page.NavigationEntry
	)
	err := l.do(ctx, func(ctx context.Context) error {
		var err error
		current, entries, err = page.GetNavigationHistory().Do(ctx)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	out := make([]NavigationEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, NavigationEntry{ID: e.ID, URL: e.URL})
	}
	return int(current), out, nil
}

func (l *remoteLease) NavigateToHistoryEntry(ctx context.Context, id int64) error {
	return l.do(ctx, func(ctx context.Context) error {
		return page.NavigateToHistoryEntry(id).Do(ctx)
	})
}

func (l *remoteLease) Detach(ctx context.Context) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detached {
		return nil
	}
	l.detached = true
	<-l.host.lease
	return nil
}

// resolveWSURL turns an http DevTools address into the browser websocket
// URL. Websocket URLs are returned unchanged.
func resolveWSURL(ctx context.Context, endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}
	var data struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := getJSON(ctx, endpoint, "/json/version", &data); err != nil {
		return "", err
	}
	if data.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return data.WebSocketDebuggerURL, nil
}

func findPageTarget(ctx context.Context, endpoint string) (target.ID, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", err
		}
		endpoint = "http://" + u.Host
	}
	var targets []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := getJSON(ctx, endpoint, "/json/list", &targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" {
			return target.ID(t.ID), nil
		}
	}
	return "", fmt.Errorf("no targets available")
}

func getJSON(ctx context.Context, base, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
