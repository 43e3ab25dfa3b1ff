// Package browser implements the fixed set of page actions the agent can
// take on its bound target.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/discovery"
	"github.com/polzovatel/browser-pilot/internal/geometry"
	"github.com/polzovatel/browser-pilot/internal/host"
	"github.com/polzovatel/browser-pilot/internal/input"
	"github.com/polzovatel/browser-pilot/internal/navigation"
)

const (
	// maxFound caps findElementsWithText results.
	maxFound = 25

	screenshotPrefix = "data:image/png;base64,"
)

var schemeRE = regexp.MustCompile(`(?i)^([a-z][a-z0-9+.-]*://|about:|data:)`)

type Options struct {
	TypingMean   time.Duration
	TypingJitter time.Duration
}

// Controller exposes the page actions. Every action is attempted once and
// reports a structured outcome; only malformed input returns an error.
type Controller struct {
	mu      sync.Mutex
	sess    *Session
	typist  *input.Typist
	tracker *navigation.Tracker
	logger  zerolog.Logger
}

func NewController(sess *Session, opts Options, logger zerolog.Logger) *Controller {
	return &Controller{
		sess:    sess,
		typist:  input.NewTypist(opts.TypingMean, opts.TypingJitter),
		tracker: navigation.NewTracker(),
		logger:  logger,
	}
}

func (c *Controller) Session() *Session { return c.sess }

// Done is closed once the bound target is removed.
func (c *Controller) Done() <-chan struct{} { return c.sess.Done() }

func (c *Controller) finish(action string, started time.Time, o Outcome) {
	recordAction(action, o.Kind(), started)
	c.logger.Debug().
		Str("action", action).
		Str("outcome", o.Kind()).
		Dur("took", time.Since(started)).
		Msg("browser action")
}

// unavailable maps a channel error to a negative outcome.
func (c *Controller) unavailable(err error) Unavailable {
	if errors.Is(err, host.ErrTargetClosed) || !c.sess.Alive() {
		return Unavailable{Reason: "target closed"}
	}
	return Unavailable{Reason: err.Error()}
}

// ClickElement clicks the center of the first element matching selector.
func (c *Controller) ClickElement(ctx context.Context, selector string) ClickOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.clickSelector(ctx, selector)
	c.finish("clickElement", started, out)
	return out
}

func (c *Controller) clickSelector(ctx context.Context, selector string) ClickOutcome {
	raw, err := c.sess.evalRaw(ctx, geometry.ChainScript, chainArg{Selector: selector, Scroll: true})
	if err != nil {
		if !c.sess.Alive() {
			return Unavailable{Reason: "target closed"}
		}
		return NotFound{Reason: err.Error()}
	}
	chain, err := geometry.DecodeChain(raw)
	if err != nil {
		return NotFound{Reason: err.Error()}
	}
	p, err := geometry.Resolve(chain, nil)
	if err != nil {
		return NotFound{}
	}
	if err := c.sess.withLease(ctx, func(l host.Lease) error {
		return input.Click(ctx, l, p)
	}); err != nil {
		return c.unavailable(err)
	}
	return Clicked{}
}

// TypeInElement focuses the single element matching selector and types
// text into it. text may contain {Key} and {Modifier+Key} tokens; an
// unsupported token is returned as an error before anything is touched.
func (c *Controller) TypeInElement(ctx context.Context, selector, text string) (TypeOutcome, error) {
	steps, err := input.ParseSequence(text)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.typeInElement(ctx, selector, steps)
	c.finish("typeInElement", started, out)
	return out, nil
}

func (c *Controller) typeInElement(ctx context.Context, selector string, steps []input.Step) TypeOutcome {
	var target typeTarget
	if err := c.sess.eval(ctx, focusTargetScript, focusArg{Selector: selector, Limit: discovery.MaxBriefing}, &target); err != nil {
		if !c.sess.Alive() {
			return Unavailable{Reason: "target closed"}
		}
		return NotFound{Reason: err.Error()}
	}
	switch {
	case target.Count == 0:
		return NotFound{}
	case target.Count > 1:
		return MultipleFound{Candidates: briefAll(target.Elements, target.Viewport), Total: target.Count}
	case !target.Editable:
		return NotEditable{}
	}
	if !target.Focused {
		c.logger.Warn().Str("selector", selector).Msg("element did not take focus")
	}
	if err := c.sess.withLease(ctx, func(l host.Lease) error {
		return c.typist.Type(ctx, l, steps)
	}); err != nil {
		return c.unavailable(err)
	}
	return Typed{Keys: len(steps)}
}

// TypeInFocusedElement types text literally into whatever has focus.
func (c *Controller) TypeInFocusedElement(ctx context.Context, text string) TypeOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	steps := input.Literal(text)
	var out TypeOutcome = Typed{Keys: len(steps)}
	if err := c.sess.withLease(ctx, func(l host.Lease) error {
		return c.typist.Type(ctx, l, steps)
	}); err != nil {
		out = c.unavailable(err)
	}
	c.finish("typeInFocusedElement", started, out)
	return out
}

func (c *Controller) find(ctx context.Context, text string) ([]discovery.Briefing, error) {
	raw, err := c.sess.evalRaw(ctx, discovery.ScanScript, discovery.NewScanArg(text))
	if err != nil {
		return nil, err
	}
	scan, err := discovery.DecodeScan(raw)
	if err != nil {
		return nil, err
	}
	return discovery.Match(scan, text), nil
}

// FindElementsWithText lists elements whose text contains text.
func (c *Controller) FindElementsWithText(ctx context.Context, text string) FindOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	var out FindOutcome
	found, err := c.find(ctx, text)
	switch {
	case err != nil:
		out = c.unavailable(err)
	case len(found) == 0:
		out = NotFound{}
	default:
		out = Found{Elements: limit(found, maxFound), Total: len(found)}
	}
	c.finish("findElementsWithText", started, out)
	return out
}

// ClickElementWithText clicks the only element whose text contains text and
// reports whether the click navigated.
func (c *Controller) ClickElementWithText(ctx context.Context, text string) TextClickOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.clickText(ctx, text)
	c.finish("clickElementWithText", started, out)
	return out
}

func (c *Controller) clickText(ctx context.Context, text string) TextClickOutcome {
	found, err := c.find(ctx, text)
	if err != nil {
		return c.unavailable(err)
	}
	switch len(found) {
	case 0:
		return NotFound{}
	case 1:
	default:
		return MultipleFound{Candidates: limit(found, discovery.MaxBriefing), Total: len(found)}
	}

	baseline, _ := c.sess.URL(ctx)
	switch o := c.clickSelector(ctx, found[0].Selector).(type) {
	case Clicked:
	case NotFound:
		return o
	case Unavailable:
		return o
	default:
		return Unavailable{Reason: fmt.Sprintf("unexpected click outcome %s", o.Kind())}
	}
	newURL, changed := c.tracker.WaitForChange(ctx, c.sess.URL, baseline, navigation.ClickTimeout)
	return Clicked{Navigation: &Navigation{Changed: changed, NewURL: newURL}}
}

// Scroll moves the page one step up or down unless it already sits at
// that edge, in which case no input is sent.
func (c *Controller) Scroll(ctx context.Context, dir navigation.Direction) ScrollOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.scroll(ctx, dir)
	c.finish("scroll", started, out)
	return out
}

func (c *Controller) scroll(ctx context.Context, dir navigation.Direction) ScrollOutcome {
	raw, err := c.sess.evalRaw(ctx, navigation.ScrollScript, nil)
	if err != nil {
		return c.unavailable(err)
	}
	state, err := navigation.DecodeScrollState(raw)
	if err != nil {
		return c.unavailable(err)
	}
	delta, reason := navigation.PlanScroll(state, dir)
	if reason != "" {
		return AtBoundary{Direction: dir, Reason: reason}
	}
	if err := c.sess.withLease(ctx, func(l host.Lease) error {
		return input.Wheel(ctx, l, state.CenterX, state.CenterY, delta)
	}); err != nil {
		return c.unavailable(err)
	}
	return Scrolled{Direction: dir, Delta: delta}
}

// GoBack jumps to the previous history entry, falling back to the
// Alt+ArrowLeft shortcut, and succeeds only if the URL then changes.
func (c *Controller) GoBack(ctx context.Context) BackOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.goBack(ctx)
	c.finish("goBack", started, out)
	return out
}

func (c *Controller) goBack(ctx context.Context) BackOutcome {
	baseline, err := c.sess.URL(ctx)
	if err != nil {
		return c.unavailable(err)
	}
	issued := false
	err = c.sess.withLease(ctx, func(l host.Lease) error {
		current, entries, err := l.NavigationHistory(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("navigation history unavailable")
			return nil
		}
		if current <= 0 || current > len(entries) {
			return nil
		}
		if err := l.NavigateToHistoryEntry(ctx, entries[current-1].ID); err != nil {
			c.logger.Debug().Err(err).Msg("navigate to history entry")
			return nil
		}
		issued = true
		return nil
	})
	if err != nil {
		return c.unavailable(err)
	}
	if !issued {
		back, _ := input.KeyStep("ArrowLeft", input.ModAlt)
		if err := c.sess.withLease(ctx, func(l host.Lease) error {
			return c.typist.Type(ctx, l, []input.Step{back})
		}); err != nil {
			return c.unavailable(err)
		}
	}
	newURL, changed := c.tracker.WaitForChange(ctx, c.sess.URL, baseline, navigation.BackTimeout)
	if !changed {
		return NoNavigation{}
	}
	return WentBack{NewURL: newURL}
}

// NormalizeURL trims raw and defaults to https when no scheme is given.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty url")
	}
	if !schemeRE.MatchString(s) {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return "", fmt.Errorf("invalid url %q: missing host", raw)
	}
	return s, nil
}

// OpenURL navigates the target. Success means the navigation was issued;
// Confirmed tells whether the URL reached the target within the wait.
func (c *Controller) OpenURL(ctx context.Context, raw string) OpenOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	started := time.Now()
	out := c.openURL(ctx, raw)
	c.finish("openUrl", started, out)
	return out
}

func (c *Controller) openURL(ctx context.Context, raw string) OpenOutcome {
	target, err := NormalizeURL(raw)
	if err != nil {
		return NotOpened{Reason: err.Error()}
	}
	if err := c.sess.navigate(ctx, target); err != nil {
		if !c.sess.Alive() {
			return Unavailable{Reason: "target closed"}
		}
		return NotOpened{Reason: err.Error()}
	}
	final, ok := c.tracker.WaitForPrefix(ctx, c.sess.URL, target, navigation.OpenTimeout)
	return Opened{URL: target, Confirmed: ok, FinalURL: final}
}

// CurrentURL returns the target URL, or "" when it cannot be read.
func (c *Controller) CurrentURL(ctx context.Context) string {
	u, err := c.sess.URL(ctx)
	if err != nil {
		return ""
	}
	return u
}

// TakeScreenshot captures the visible area as a PNG data URL. It returns ""
// on any failure.
func (c *Controller) TakeScreenshot(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var png []byte
	err := c.sess.withLease(ctx, func(l host.Lease) error {
		var err error
		png, err = l.CaptureScreenshot(ctx)
		return err
	})
	if err != nil || len(png) == 0 {
		c.logger.Debug().Err(err).Msg("screenshot failed")
		return ""
	}
	return screenshotPrefix + base64.StdEncoding.EncodeToString(png)
}

func briefAll(cs []discovery.Candidate, vp discovery.Viewport) []discovery.Briefing {
	out := make([]discovery.Briefing, 0, len(cs))
	for _, cand := range cs {
		out = append(out, discovery.Brief(cand, vp))
	}
	return limit(out, discovery.MaxBriefing)
}

func limit(bs []discovery.Briefing, n int) []discovery.Briefing {
	if len(bs) > n {
		return bs[:n]
	}
	return bs
}
