package host

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

const (
	defaultNavTimeout = 30 * time.Second
	navIssueTimeout   = 10 * time.Second
	headlessEnv       = "AGENT_HEADLESS"
)

// Launcher owns playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
	logger   zerolog.Logger
}

// NewLauncher starts playwright and a Chromium instance. A nil headless
// falls back to AGENT_HEADLESS.
func NewLauncher(ctx context.Context, headless *bool, logger zerolog.Logger) (*Launcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	hl := ParseBoolEnv(headlessEnv, false)
	if headless != nil {
		hl = *headless
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(hl),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: hl, logger: logger}, nil
}

// NewPage opens a fresh context and page, optionally seeded with a stored
// playwright storage state.
func (l *Launcher) NewPage(ctx context.Context, storagePath string) (*PageHost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))

	h := &PageHost{
		context: bctx,
		page:    page,
		id:      TargetID(uuid.NewString()),
		removed: make(chan struct{}),
	}
	h.logger = l.logger.With().Str("target", string(h.id)).Logger()
	page.OnClose(func(playwright.Page) { h.markRemoved() })
	h.logger.Debug().Msg("page opened")
	return h, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// PageHost serves one playwright page as a Host. Leases are CDP sessions
// opened on the page and detached at the end of every bracket.
type PageHost struct {
	context playwright.BrowserContext
	page    playwright.Page
	id      TargetID
	logger  zerolog.Logger

	once    sync.Once
	removed chan struct{}
}

func (h *PageHost) Target() TargetID { return h.id }

func (h *PageHost) markRemoved() {
	h.once.Do(func() {
		h.logger.Info().Msg("target removed")
		close(h.removed)
	})
}

func (h *PageHost) check(id TargetID) error {
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

func (h *PageHost) Attach(ctx context.Context, id TargetID) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.check(id); err != nil {
		return nil, err
	}
	sess, err := h.context.NewCDPSession(h.page)
	if err != nil {
		return nil, wrap(err)
	}
	return &cdpLease{session: sess}, nil
}

func (h *PageHost) Evaluate(ctx context.Context, id TargetID, script string, arg any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.check(id); err != nil {
		return nil, err
	}
	plain, err := plainArg(arg)
	if err != nil {
		return nil, err
	}
	val, err := h.page.Evaluate(script, plain)
	if err != nil {
		return nil, wrap(err)
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal evaluate result: %w", err)
	}
	return data, nil
}

func (h *PageHost) Get(ctx context.Context, id TargetID) (TargetInfo, error) {
	if err := ctx.Err(); err != nil {
		return TargetInfo{}, err
	}
	if err := h.check(id); err != nil {
		return TargetInfo{}, err
	}
	return TargetInfo{ID: h.id, URL: h.page.URL()}, nil
}

func (h *PageHost) Update(ctx context.Context, id TargetID, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.check(id); err != nil {
		return err
	}
	_, err := h.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateCommit,
		Timeout:   playwright.Float(float64(navIssueTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (h *PageHost) Removed(id TargetID) <-chan struct{} {
	if id != h.id {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return h.removed
}

// SaveState writes the playwright storage state (cookies, local storage).
func (h *PageHost) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := h.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func (h *PageHost) Close(ctx context.Context) error {
	_ = ctx
	if h.page != nil {
		_ = h.page.Close()
	}
	h.markRemoved()
	if h.context != nil {
		return wrap(h.context.Close())
	}
	return nil
}

type cdpLease struct {
	mu       sync.Mutex
	session  playwright.CDPSession
	detached bool
}

func (l *cdpLease) send(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detached {
		return nil, ErrNotAttached
	}
	res, err := l.session.Send(method, params)
	if err != nil {
		return nil, wrap(fmt.Errorf("%s: %w", method, err))
	}
	m, _ := res.(map[string]any)
	return m, nil
}

func (l *cdpLease) DispatchMouseEvent(ctx context.Context, ev MouseEvent) error {
	params := map[string]any{
		"type":       string(ev.Type),
		"x":          ev.X,
		"y":          ev.Y,
		"modifiers":  ev.Modifiers,
		"clickCount": ev.ClickCount,
		"buttons":    ev.Buttons,
	}
	if ev.Button != "" {
		params["button"] = ev.Button
	}
	if ev.Type == MouseWheel {
		params["deltaX"] = ev.DeltaX
		params["deltaY"] = ev.DeltaY
	}
	_, err := l.send(ctx, "Input.dispatchMouseEvent", params)
	return err
}

func (l *cdpLease) DispatchKeyEvent(ctx context.Context, ev KeyEvent) error {
	params := map[string]any{
		"type":      string(ev.Type),
		"modifiers": ev.Modifiers,
	}
	if ev.Text != "" {
		params["text"] = ev.Text
	}
	if ev.Key != "" {
		params["key"] = ev.Key
		params["code"] = ev.Code
		params["windowsVirtualKeyCode"] = ev.VirtualKeyCode
		params["nativeVirtualKeyCode"] = ev.VirtualKeyCode
	}
	_, err := l.send(ctx, "Input.dispatchKeyEvent", params)
	return err
}

func (l *cdpLease) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	res, err := l.send(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return nil, err
	}
	data, _ := res["data"].(string)
	if data == "" {
		return nil, fmt.Errorf("playwright: empty screenshot")
	}
	return base64.StdEncoding.DecodeString(data)
}

func (l *cdpLease) NavigationHistory(ctx context.Context) (int, []NavigationEntry, error) {
	res, err := l.send(ctx, "Page.getNavigationHistory", map[string]any{})
	if err != nil {
		return 0, nil, err
	}
	var decoded struct {
		CurrentIndex int `json:"currentIndex"`
		Entries      []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"entries"`
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal history: %w", err)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return 0, nil, fmt.Errorf("decode history: %w", err)
	}
	entries := make([]NavigationEntry, 0, len(decoded.Entries))
	for _, e := range decoded.Entries {
		entries = append(entries, NavigationEntry{ID: e.ID, URL: e.URL})
	}
	return decoded.CurrentIndex, entries, nil
}

func (l *cdpLease) NavigateToHistoryEntry(ctx context.Context, id int64) error {
	_, err := l.send(ctx, "Page.navigateToHistoryEntry", map[string]any{"entryId": id})
	return err
}

func (l *cdpLease) Detach(ctx context.Context) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detached {
		return nil
	}
	l.detached = true
	return wrap(l.session.Detach())
}

// plainArg converts arg into maps and slices so playwright's serializer
// sees the same field names as the JSON encoding.
func plainArg(arg any) (any, error) {
	if arg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("marshal script arg: %w", err)
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("unmarshal script arg: %w", err)
	}
	return plain, nil
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

// ParseBoolEnv reads a boolean environment variable, returning def when
// unset or unrecognised.
func ParseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	return ParseBool(val, def)
}

func ParseBool(val string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
