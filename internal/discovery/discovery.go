// Package discovery finds page elements by visible or accessible text.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/polzovatel/browser-pilot/internal/geometry"
)

const (
	// maxScan bounds how many matching nodes the page script reports.
	maxScan     = 500
	maxTextLen  = 200
	MaxBriefing = 10
)

// Position is a coarse location of an element inside the viewport.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	Center      Position = "center"
)

// Briefing describes a discovered element.
type Briefing struct {
	Selector  string   `json:"selector"`
	Text      string   `json:"text"`
	IsVisible bool     `json:"isVisible"`
	Position  Position `json:"position"`
}

type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Candidate is one node reported by ScanScript. Texts are ordered: inner
// text, placeholder, aria-label, title, label text, value, alt.
type Candidate struct {
	Selector    string        `json:"selector"`
	Texts       []string      `json:"texts"`
	Visible     bool          `json:"visible"`
	Interactive bool          `json:"interactive"`
	Rect        geometry.Rect `json:"rect"`
}

type Scan struct {
	Viewport Viewport    `json:"viewport"`
	Elements []Candidate `json:"elements"`
}

// ScanArg is the argument passed to ScanScript.
type ScanArg struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// NewScanArg trims query the same way Match does, so the page and the Go
// side agree on what to look for.
func NewScanArg(query string) ScanArg {
	return ScanArg{Query: strings.TrimSpace(query), Limit: maxScan}
}

func DecodeScan(raw []byte) (Scan, error) {
	var s Scan
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Scan{}, fmt.Errorf("decode scan: %w", err)
	}
	return s, nil
}

// Match keeps the candidates whose text contains query (case-insensitive)
// and that are visible or interactive, in document order.
func Match(scan Scan, query string) []Briefing {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Briefing
	for _, c := range scan.Elements {
		if c.Selector == "" || !(c.Visible || c.Interactive) {
			continue
		}
		if !contains(c.Texts, q) {
			continue
		}
		out = append(out, Brief(c, scan.Viewport))
	}
	return out
}

// Brief turns a scanned candidate into a briefing.
func Brief(c Candidate, vp Viewport) Briefing {
	cx := c.Rect.Left + c.Rect.Width/2
	cy := c.Rect.Top + c.Rect.Height/2
	return Briefing{
		Selector:  c.Selector,
		Text:      displayText(c.Texts),
		IsVisible: c.Visible,
		Position:  Bucket(cx, cy, vp),
	}
}

func contains(texts []string, q string) bool {
	for _, t := range texts {
		if t != "" && strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

func displayText(texts []string) string {
	for _, t := range texts {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		if utf8.RuneCountInString(t) > maxTextLen {
			r := []rune(t)
			t = string(r[:maxTextLen])
		}
		return t
	}
	return ""
}

// Bucket splits the viewport in thirds on both axes. Only the four corner
// cells keep their name, everything else is center.
func Bucket(x, y float64, vp Viewport) Position {
	col := third(x, vp.Width)
	row := third(y, vp.Height)
	switch {
	case row < 0 && col < 0:
		return TopLeft
	case row < 0 && col > 0:
		return TopRight
	case row > 0 && col < 0:
		return BottomLeft
	case row > 0 && col > 0:
		return BottomRight
	default:
		return Center
	}
}

func third(v, size float64) int {
	if size <= 0 {
		return 0
	}
	switch {
	case v < size/3:
		return -1
	case v > size*2/3:
		return 1
	default:
		return 0
	}
}

// HelpersJS declares the page-side helpers shared by every script that
// describes elements: isVisible, isInteractive, labelText, selectorOf,
// textsOf and describe.
const HelpersJS = `
	const roles = new Set(['button', 'link', 'tab', 'menuitem', 'option', 'textbox', 'searchbox']);
	const isVisible = (el) => {
		const st = getComputedStyle(el);
		if (st.visibility === 'hidden' || st.display === 'none') return false;
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	};
	const isInteractive = (el) => {
		const tag = el.tagName.toLowerCase();
		if (tag === 'input' || tag === 'textarea' || tag === 'button' || tag === 'select') return true;
		if (tag === 'a' && el.hasAttribute('href')) return true;
		if (el.isContentEditable) return true;
		return roles.has((el.getAttribute('role') || '').toLowerCase());
	};
	const labelText = (el) => {
		if (el.id) {
			const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (l) return l.innerText;
		}
		const c = el.closest('label');
		return c ? c.innerText : '';
	};
	const selectorOf = (el) => {
		if (el.id) return '#' + CSS.escape(el.id);
		const parts = [];
		let node = el;
		while (node && node.nodeType === 1 && node !== document.body && node !== document.documentElement) {
			const parent = node.parentElement;
			if (!parent) break;
			const tag = node.tagName.toLowerCase();
			const same = Array.from(parent.children).filter((c) => c.tagName === node.tagName);
			parts.unshift(same.length > 1 ? tag + ':nth-of-type(' + (same.indexOf(node) + 1) + ')' : tag);
			node = parent;
		}
		return parts.join(' > ');
	};
	const textsOf = (el) => {
		const tag = el.tagName;
		return [
			el.innerText,
			el.getAttribute('placeholder') || el.getAttribute('aria-placeholder') || el.getAttribute('data-placeholder'),
			el.getAttribute('aria-label'),
			el.getAttribute('title'),
			labelText(el),
			tag === 'INPUT' || tag === 'BUTTON' ? el.value : '',
			el.getAttribute('alt'),
		].map((t) => (t == null ? '' : String(t)).trim());
	};
	const describe = (el, texts) => {
		const r = el.getBoundingClientRect();
		return {
			selector: selectorOf(el),
			texts: texts || textsOf(el),
			visible: isVisible(el),
			interactive: isInteractive(el),
			rect: { left: r.left, top: r.top, width: r.width, height: r.height },
		};
	};
	const viewport = () => ({ width: window.innerWidth, height: window.innerHeight });
`

// ScanScript walks the document body and reports every element whose
// candidate texts contain arg.query.
const ScanScript = `(arg) => {` + HelpersJS + `
	const q = String(arg.query || '').trim().toLowerCase();
	const limit = arg.limit || 500;
	const out = [];
	if (!document.body) return { viewport: viewport(), elements: out };
	const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
	for (let el = walker.currentNode; el && out.length < limit; el = walker.nextNode()) {
		const texts = textsOf(el);
		if (!texts.some((t) => t && t.toLowerCase().includes(q))) continue;
		out.push(describe(el, texts));
	}
	return { viewport: viewport(), elements: out };
}`
