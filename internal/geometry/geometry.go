// Package geometry maps an element, possibly nested inside frames, to
// absolute pixel coordinates of the top-level viewport.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrNotFound = errors.New("geometry: element not found")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Frame is one containing frame element, seen from its parent document.
// Viewport holds the parent's visual viewport offset when the browser
// exposes one.
type Frame struct {
	Rect     Rect   `json:"rect"`
	Viewport *Point `json:"viewport,omitempty"`
}

// Chain is the local box of an element followed by its containing frames,
// innermost first.
type Chain struct {
	Connected bool    `json:"connected"`
	Box       Rect    `json:"box"`
	Frames    []Frame `json:"frames"`
}

// Resolve folds the chain into top viewport coordinates. offset is
// relative to the element box and defaults to its center; it is clamped
// into the box.
func Resolve(c Chain, offset *Point) (Point, error) {
	if !c.Connected {
		return Point{}, ErrNotFound
	}
	ox, oy := c.Box.Width/2, c.Box.Height/2
	if offset != nil {
		ox, oy = offset.X, offset.Y
	}
	ox = clamp(ox, 0, math.Max(0, c.Box.Width))
	oy = clamp(oy, 0, math.Max(0, c.Box.Height))

	x := c.Box.Left + ox
	y := c.Box.Top + oy
	for _, f := range c.Frames {
		x += f.Rect.Left
		y += f.Rect.Top
		if f.Viewport != nil {
			x += f.Viewport.X
			y += f.Viewport.Y
		}
	}
	return Point{X: round(x), Y: round(y)}, nil
}

// DecodeChain parses the result of ChainScript.
func DecodeChain(raw []byte) (Chain, error) {
	var c Chain
	if len(raw) == 0 || string(raw) == "null" {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Chain{}, fmt.Errorf("decode element chain: %w", err)
	}
	return c, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// round matches the page's Math.round: halves go up.
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}

// ChainScript locates arg.selector, optionally centers it in the viewport,
// and reports its box plus every containing frame up to the top window.
const ChainScript = `(arg) => {
	const el = document.querySelector(arg.selector);
	if (!el || !el.isConnected) return { connected: false };
	if (arg.scroll) el.scrollIntoView({ block: 'center', inline: 'center' });
	const r = el.getBoundingClientRect();
	const frames = [];
	let win = el.ownerDocument.defaultView;
	while (win && win.frameElement) {
		const fr = win.frameElement.getBoundingClientRect();
		const vv = win.parent && win.parent.visualViewport;
		frames.push({
			rect: { left: fr.left, top: fr.top, width: fr.width, height: fr.height },
			viewport: vv ? { x: vv.offsetLeft, y: vv.offsetTop } : null,
		});
		win = win.parent;
	}
	return {
		connected: true,
		box: { left: r.left, top: r.top, width: r.width, height: r.height },
		frames,
	};
}`
