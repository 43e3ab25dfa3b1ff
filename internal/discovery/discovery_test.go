package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/browser-pilot/internal/geometry"
)

var vp = Viewport{Width: 900, Height: 600}

func cand(sel string, visible, interactive bool, rect geometry.Rect, texts ...string) Candidate {
	full := make([]string, 7)
	copy(full, texts)
	return Candidate{Selector: sel, Texts: full, Visible: visible, Interactive: interactive, Rect: rect}
}

func TestMatch(t *testing.T) {
	scan := Scan{
		Viewport: vp,
		Elements: []Candidate{
			cand("#login", true, true, geometry.Rect{Left: 10, Top: 10, Width: 80, Height: 20}, "Log In"),
			cand("div > span", false, false, geometry.Rect{}, "login hidden"),
			cand("input", false, true, geometry.Rect{Left: 800, Top: 500, Width: 50, Height: 20}, "", "Login name"),
			cand("", true, true, geometry.Rect{}, "login"),
			cand("p", true, false, geometry.Rect{Left: 400, Top: 300}, "unrelated"),
		},
	}

	got := Match(scan, "LOG")
	require.Len(t, got, 2)
	assert.Equal(t, Briefing{Selector: "#login", Text: "Log In", IsVisible: true, Position: TopLeft}, got[0])
	assert.Equal(t, Briefing{Selector: "input", Text: "Login name", IsVisible: false, Position: BottomRight}, got[1])
}

func TestMatchNoResults(t *testing.T) {
	scan := Scan{Viewport: vp, Elements: []Candidate{cand("a", true, true, geometry.Rect{}, "Home")}}
	assert.Empty(t, Match(scan, "checkout"))
	assert.Empty(t, Match(scan, "   "))
}

func TestNewScanArgTrimsQuery(t *testing.T) {
	arg := NewScanArg("  Submit\n")
	assert.Equal(t, "Submit", arg.Query)
	assert.Equal(t, maxScan, arg.Limit)

	scan := Scan{Viewport: vp, Elements: []Candidate{cand("#go", true, true, geometry.Rect{}, "Submit")}}
	assert.Len(t, Match(scan, " Submit "), 1)
	assert.Contains(t, ScanScript, "trim().toLowerCase()")
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "Sign up now", displayText([]string{"", "  Sign\n up   now "}))
	long := strings.Repeat("é", maxTextLen+20)
	assert.Equal(t, maxTextLen, len([]rune(displayText([]string{long}))))
	assert.Empty(t, displayText([]string{"", " "}))
}

func TestBucket(t *testing.T) {
	tests := []struct {
		x, y float64
		want Position
	}{
		{10, 10, TopLeft},
		{890, 10, TopRight},
		{10, 590, BottomLeft},
		{890, 590, BottomRight},
		{450, 300, Center},
		{10, 300, Center},
		{450, 10, Center},
		{300, 200, Center},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bucket(tt.x, tt.y, vp), "(%v,%v)", tt.x, tt.y)
	}
	assert.Equal(t, Center, Bucket(5, 5, Viewport{}))
}

func TestDecodeScan(t *testing.T) {
	s, err := DecodeScan([]byte(`{"viewport":{"width":100,"height":50},"elements":[{"selector":"#a","texts":["A","","","","","",""],"visible":true,"interactive":false,"rect":{"left":1,"top":2,"width":3,"height":4}}]}`))
	require.NoError(t, err)
	assert.Equal(t, Viewport{Width: 100, Height: 50}, s.Viewport)
	require.Len(t, s.Elements, 1)
	assert.Equal(t, "#a", s.Elements[0].Selector)

	s, err = DecodeScan(nil)
	require.NoError(t, err)
	assert.Empty(t, s.Elements)
}
