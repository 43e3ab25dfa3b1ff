package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-pilot/internal/discovery"
	"github.com/polzovatel/browser-pilot/internal/geometry"
	"github.com/polzovatel/browser-pilot/internal/host"
	"github.com/polzovatel/browser-pilot/internal/host/hosttest"
	"github.com/polzovatel/browser-pilot/internal/input"
	"github.com/polzovatel/browser-pilot/internal/navigation"
)

type page struct {
	chain  geometry.Chain
	scan   discovery.Scan
	typeTo typeTarget
	scroll navigation.ScrollState
}

func (p *page) script(script string, arg any) (any, error) {
	switch script {
	case geometry.ChainScript:
		return p.chain, nil
	case discovery.ScanScript:
		return p.scan, nil
	case focusTargetScript:
		return p.typeTo, nil
	case navigation.ScrollScript:
		return p.scroll, nil
	}
	return nil, fmt.Errorf("unexpected script")
}

func newTestController(t *testing.T, url string) (*Controller, *hosttest.Host, *page) {
	t.Helper()
	h := hosttest.New(url)
	p := &page{}
	h.Script = p.script
	c := NewController(NewSession(h, hosttest.DefaultTarget), Options{}, zerolog.Nop())
	now := time.Unix(0, 0)
	c.tracker = navigation.NewTrackerWithClock(
		func() time.Time { return now },
		func(d time.Duration) { now = now.Add(d) },
	)
	return c, h, p
}

func visible(sel, text string) discovery.Candidate {
	return discovery.Candidate{
		Selector: sel,
		Texts:    []string{text, "", "", "", "", "", ""},
		Visible:  true,
		Rect:     geometry.Rect{Left: 10, Top: 10, Width: 20, Height: 10},
	}
}

func TestClickElement(t *testing.T) {
	c, h, p := newTestController(t, "https://a.test/")
	p.chain = geometry.Chain{Connected: true, Box: geometry.Rect{Left: 100, Top: 50, Width: 40, Height: 20}}

	out := c.ClickElement(context.Background(), "#go")
	assert.Equal(t, Clicked{}, out)
	require.Len(t, h.Mouse, 3)
	assert.Equal(t, 120.0, h.Mouse[1].X)
	assert.Equal(t, 60.0, h.Mouse[1].Y)
	assert.Equal(t, 1, h.Attaches)
	assert.Equal(t, 1, h.Detaches)
}

func TestClickElementNotFound(t *testing.T) {
	c, h, _ := newTestController(t, "https://a.test/")

	out := c.ClickElement(context.Background(), "#missing")
	assert.IsType(t, NotFound{}, out)
	assert.False(t, out.Success())
	assert.Zero(t, h.Events())
	assert.Zero(t, h.Attaches)
}

func TestClickElementScriptError(t *testing.T) {
	c, h, _ := newTestController(t, "https://a.test/")
	h.Script = func(string, any) (any, error) { return nil, errors.New("SyntaxError: bad selector") }

	out := c.ClickElement(context.Background(), "##")
	require.IsType(t, NotFound{}, out)
	assert.Contains(t, out.(NotFound).Reason, "bad selector")
}

func TestTypeInElement(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		c, h, _ := newTestController(t, "https://a.test/")
		out, err := c.TypeInElement(context.Background(), "#q", "hello")
		require.NoError(t, err)
		assert.Equal(t, NotFound{}, out)
		assert.Zero(t, h.Events())
	})

	t.Run("multiple found", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.typeTo = typeTarget{Count: 14, Viewport: discovery.Viewport{Width: 900, Height: 600}}
		for i := 0; i < 10; i++ {
			p.typeTo.Elements = append(p.typeTo.Elements, visible(fmt.Sprintf("input:nth-of-type(%d)", i+1), ""))
		}
		out, err := c.TypeInElement(context.Background(), "input", "hello")
		require.NoError(t, err)
		mf, ok := out.(MultipleFound)
		require.True(t, ok)
		assert.Equal(t, 14, mf.Total)
		assert.Len(t, mf.Candidates, 10)
		for _, b := range mf.Candidates {
			assert.NotEmpty(t, b.Selector)
		}
		assert.Zero(t, h.Events())
	})

	t.Run("not editable", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.typeTo = typeTarget{Count: 1, Elements: []discovery.Candidate{visible("#ro", "")}}
		out, err := c.TypeInElement(context.Background(), "#ro", "hello")
		require.NoError(t, err)
		assert.Equal(t, NotEditable{}, out)
		assert.Zero(t, h.Events())
	})

	t.Run("types tokens", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.typeTo = typeTarget{Count: 1, Elements: []discovery.Candidate{visible("#q", "")}, Editable: true, Focused: true}
		out, err := c.TypeInElement(context.Background(), "#q", "Hi{Enter}")
		require.NoError(t, err)
		assert.Equal(t, Typed{Keys: 3}, out)
		require.Len(t, h.Keys, 6)
		assert.Equal(t, "H", h.Keys[0].Text)
		assert.Equal(t, "Enter", h.Keys[4].Key)
		assert.Equal(t, 1, h.Detaches)
	})

	t.Run("unsupported token", func(t *testing.T) {
		c, h, _ := newTestController(t, "https://a.test/")
		out, err := c.TypeInElement(context.Background(), "#q", "{Foo}")
		assert.ErrorIs(t, err, input.ErrUnsupportedKey)
		assert.Nil(t, out)
		assert.Empty(t, h.Scripts)
		assert.Zero(t, h.Events())
		assert.Zero(t, h.Attaches)
	})
}

func TestTypeInFocusedElement(t *testing.T) {
	c, h, _ := newTestController(t, "https://a.test/")
	out := c.TypeInFocusedElement(context.Background(), "a{b}\n")
	assert.Equal(t, Typed{Keys: 5}, out)
	require.Len(t, h.Keys, 10)
	assert.Equal(t, "{", h.Keys[2].Text)
	assert.Equal(t, "Enter", h.Keys[8].Key)
}

func TestFindElementsWithText(t *testing.T) {
	c, _, p := newTestController(t, "https://a.test/")
	p.scan = discovery.Scan{
		Viewport: discovery.Viewport{Width: 900, Height: 600},
		Elements: []discovery.Candidate{visible("#buy", "Buy now"), visible("#home", "Home")},
	}

	out := c.FindElementsWithText(context.Background(), "buy")
	found, ok := out.(Found)
	require.True(t, ok)
	assert.Equal(t, 1, found.Total)
	assert.Equal(t, "#buy", found.Elements[0].Selector)
	assert.Equal(t, discovery.TopLeft, found.Elements[0].Position)

	assert.Equal(t, NotFound{}, c.FindElementsWithText(context.Background(), "checkout"))
}

func TestClickElementWithText(t *testing.T) {
	t.Run("navigates", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.scan = discovery.Scan{Elements: []discovery.Candidate{visible("#next", "Next page")}}
		p.chain = geometry.Chain{Connected: true, Box: geometry.Rect{Width: 10, Height: 10}}
		h.OnMouse = func(h *hosttest.Host, ev host.MouseEvent) {
			if ev.Type == host.MouseReleased {
				h.SetURL("https://a.test/2")
			}
		}

		out := c.ClickElementWithText(context.Background(), "next")
		assert.Equal(t, Clicked{Navigation: &Navigation{Changed: true, NewURL: "https://a.test/2"}}, out)
	})

	t.Run("no navigation", func(t *testing.T) {
		c, _, p := newTestController(t, "https://a.test/")
		p.scan = discovery.Scan{Elements: []discovery.Candidate{visible("#tab", "Details")}}
		p.chain = geometry.Chain{Connected: true, Box: geometry.Rect{Width: 10, Height: 10}}

		out := c.ClickElementWithText(context.Background(), "details")
		assert.Equal(t, Clicked{Navigation: &Navigation{}}, out)
	})

	t.Run("multiple found", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		for i := 0; i < 12; i++ {
			p.scan.Elements = append(p.scan.Elements, visible(fmt.Sprintf("#item-%d", i), "Item"))
		}
		out := c.ClickElementWithText(context.Background(), "item")
		mf, ok := out.(MultipleFound)
		require.True(t, ok)
		assert.Equal(t, 12, mf.Total)
		assert.Len(t, mf.Candidates, 10)
		assert.Zero(t, h.Events())
	})

	t.Run("not found", func(t *testing.T) {
		c, h, _ := newTestController(t, "https://a.test/")
		assert.Equal(t, NotFound{}, c.ClickElementWithText(context.Background(), "nothing"))
		assert.Zero(t, h.Events())
	})
}

func TestScroll(t *testing.T) {
	t.Run("top edge", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.scroll = navigation.ScrollState{Y: 0, MaxY: 2000, ViewportHeight: 800}
		out := c.Scroll(context.Background(), navigation.Up)
		assert.Equal(t, AtBoundary{Direction: navigation.Up, Reason: navigation.ReasonTop}, out)
		assert.Zero(t, h.Events())
		assert.Zero(t, h.Attaches)

		report := Report(out)
		assert.Equal(t, false, report["scrolled"])
		assert.Equal(t, "already at the top", report["reason"])
	})

	t.Run("bottom edge", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.scroll = navigation.ScrollState{Y: 1999.5, MaxY: 2000, ViewportHeight: 800}
		out := c.Scroll(context.Background(), navigation.Down)
		assert.Equal(t, AtBoundary{Direction: navigation.Down, Reason: navigation.ReasonBottom}, out)
		assert.Zero(t, h.Events())
	})

	t.Run("scrolls down", func(t *testing.T) {
		c, h, p := newTestController(t, "https://a.test/")
		p.scroll = navigation.ScrollState{Y: 0, MaxY: 2000, ViewportHeight: 800, CenterX: 640, CenterY: 400}
		out := c.Scroll(context.Background(), navigation.Down)
		assert.Equal(t, Scrolled{Direction: navigation.Down, Delta: 640}, out)
		require.Len(t, h.Mouse, 1)
		assert.Equal(t, host.MouseWheel, h.Mouse[0].Type)
		assert.Equal(t, 640.0, h.Mouse[0].X)
		assert.Equal(t, 640.0, h.Mouse[0].DeltaY)
	})
}

func TestGoBack(t *testing.T) {
	t.Run("history entry", func(t *testing.T) {
		c, h, _ := newTestController(t, "https://a.test/2")
		h.HistoryIndex = 1
		h.HistoryList = []host.NavigationEntry{{ID: 7, URL: "https://a.test/1"}, {ID: 8, URL: "https://a.test/2"}}
		var navigated int64
		h.OnHistoryEntry = func(h *hosttest.Host, id int64) {
			navigated = id
			h.SetURL("https://a.test/1")
		}

		out := c.GoBack(context.Background())
		assert.Equal(t, WentBack{NewURL: "https://a.test/1"}, out)
		assert.Equal(t, int64(7), navigated)
		assert.Empty(t, h.Keys)
	})

	t.Run("shortcut fallback without change", func(t *testing.T) {
		c, h, _ := newTestController(t, "https://a.test/")
		out := c.GoBack(context.Background())
		assert.IsType(t, NoNavigation{}, out)
		require.Len(t, h.Keys, 2)
		assert.Equal(t, "ArrowLeft", h.Keys[0].Key)
		assert.Equal(t, int(input.ModAlt), h.Keys[0].Modifiers)
		assert.Equal(t, h.Attaches, h.Detaches)
	})
}

func TestOpenURL(t *testing.T) {
	c, h, _ := newTestController(t, "about:blank")
	out := c.OpenURL(context.Background(), "  example.com ")
	assert.Equal(t, Opened{URL: "https://example.com", Confirmed: true, FinalURL: "https://example.com"}, out)
	assert.Equal(t, []string{"https://example.com"}, h.Updates)

	c, h, _ = newTestController(t, "about:blank")
	h.OnUpdate = func(*hosttest.Host, string) {}
	out = c.OpenURL(context.Background(), "https://slow.test")
	assert.Equal(t, Opened{URL: "https://slow.test"}, out)
	assert.True(t, out.Success())

	out = c.OpenURL(context.Background(), "   ")
	assert.IsType(t, NotOpened{}, out)
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
		err      bool
	}{
		{"example.com", "https://example.com", false},
		{"http://example.com/x", "http://example.com/x", false},
		{"HTTPS://Example.com", "HTTPS://Example.com", false},
		{"localhost:3000/app", "https://localhost:3000/app", false},
		{"about:blank", "about:blank", false},
		{"", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTakeScreenshot(t *testing.T) {
	c, h, _ := newTestController(t, "https://a.test/")
	h.Screenshot = []byte{0x89, 'P', 'N', 'G'}
	assert.Equal(t, "data:image/png;base64,iVBORw==", c.TakeScreenshot(context.Background()))
	assert.Equal(t, 1, h.Detaches)

	h.ScreenshotErr = errors.New("capture failed")
	assert.Empty(t, c.TakeScreenshot(context.Background()))
	assert.Equal(t, 2, h.Detaches)
}

func TestRemovedTarget(t *testing.T) {
	c, h, _ := newTestController(t, "https://a.test/")
	h.Remove()

	assert.False(t, c.Session().Alive())
	assert.Empty(t, c.CurrentURL(context.Background()))
	assert.Empty(t, c.TakeScreenshot(context.Background()))
	assert.Equal(t, Unavailable{Reason: "target closed"}, c.ClickElement(context.Background(), "#x"))
	assert.Equal(t, Unavailable{Reason: "target closed"}, c.Scroll(context.Background(), navigation.Down))
	assert.Equal(t, Unavailable{Reason: "target closed"}, c.OpenURL(context.Background(), "example.com"))
	assert.Zero(t, h.Attaches)
}

func TestOutcomeJSON(t *testing.T) {
	raw, err := json.Marshal(MultipleFound{Candidates: []discovery.Briefing{{Selector: "#a", Text: "A", IsVisible: true, Position: discovery.Center}}, Total: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"outcome":"multiple-found","reason":"multiple found","total":3,
		"candidates":[{"selector":"#a","text":"A","isVisible":true,"position":"center"}]}`, string(raw))

	raw, err = json.Marshal(Clicked{Navigation: &Navigation{Changed: true, NewURL: "https://b.test/"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"outcome":"clicked","clicked":true,"urlChanged":true,"newUrl":"https://b.test/"}`, string(raw))
}
