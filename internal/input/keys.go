// Package input turns logical pointer and keyboard intents into low-level
// events sent over an attached control channel.
package input

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/polzovatel/browser-pilot/internal/host"
)

var ErrUnsupportedKey = errors.New("input: unsupported key")

// Modifiers is the DevTools modifier bit mask.
type Modifiers int

const (
	ModAlt   Modifiers = 1
	ModCtrl  Modifiers = 2
	ModMeta  Modifiers = 4
	ModShift Modifiers = 8
)

type keyDef struct {
	name string
	code int
	text string
}

var specialKeys = map[string]keyDef{
	"enter":      {name: "Enter", code: 13, text: "\r"},
	"tab":        {name: "Tab", code: 9},
	"backspace":  {name: "Backspace", code: 8},
	"delete":     {name: "Delete", code: 46},
	"escape":     {name: "Escape", code: 27},
	"arrowleft":  {name: "ArrowLeft", code: 37},
	"arrowup":    {name: "ArrowUp", code: 38},
	"arrowright": {name: "ArrowRight", code: 39},
	"arrowdown":  {name: "ArrowDown", code: 40},
	"home":       {name: "Home", code: 36},
	"end":        {name: "End", code: 35},
}

var modifierNames = map[string]Modifiers{
	"alt":     ModAlt,
	"option":  ModAlt,
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"meta":    ModMeta,
	"cmd":     ModMeta,
	"command": ModMeta,
	"shift":   ModShift,
}

// Step is one key press: either a raw text character or a named key.
type Step struct {
	Text      string    `json:"text,omitempty"`
	Key       string    `json:"key,omitempty"`
	Modifiers Modifiers `json:"modifiers,omitempty"`
}

func (s Step) IsKey() bool { return s.Key != "" }

func TextStep(ch string) Step { return Step{Text: ch} }

// KeyStep builds a named key step; name must be on the allow-list.
func KeyStep(name string, mods Modifiers) (Step, error) {
	def, ok := specialKeys[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Step{}, fmt.Errorf("%w: %q", ErrUnsupportedKey, name)
	}
	return Step{Key: def.name, Modifiers: mods}, nil
}

// Literal maps text one character at a time. Newlines become Enter.
func Literal(text string) []Step {
	steps := make([]Step, 0, len(text))
	for _, r := range text {
		if r == '\n' {
			steps = append(steps, Step{Key: "Enter"})
			continue
		}
		steps = append(steps, TextStep(string(r)))
	}
	return steps
}

// ParseSequence expands {Key} and {Modifier+Key} tokens. Anything else is
// typed literally. The whole sequence is rejected if a token names a key
// or modifier outside the allow-list.
func ParseSequence(text string) ([]Step, error) {
	steps := make([]Step, 0, len(text))
	for i := 0; i < len(text); {
		if text[i] == '{' {
			if end := strings.IndexByte(text[i+1:], '}'); end > 0 {
				step, err := parseToken(text[i+1 : i+1+end])
				if err != nil {
					return nil, err
				}
				steps = append(steps, step)
				i += end + 2
				continue
			}
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '\n' {
			steps = append(steps, Step{Key: "Enter"})
		} else {
			steps = append(steps, TextStep(string(r)))
		}
		i += size
	}
	return steps, nil
}

func parseToken(token string) (Step, error) {
	parts := strings.Split(token, "+")
	var mods Modifiers
	for _, p := range parts[:len(parts)-1] {
		m, ok := modifierNames[strings.ToLower(strings.TrimSpace(p))]
		if !ok {
			return Step{}, fmt.Errorf("%w: modifier %q in {%s}", ErrUnsupportedKey, p, token)
		}
		mods |= m
	}
	return KeyStep(parts[len(parts)-1], mods)
}

// KeyEvents returns the down/up pair for a step.
func KeyEvents(s Step) []host.KeyEvent {
	mods := int(s.Modifiers)
	if !s.IsKey() {
		return []host.KeyEvent{
			{Type: host.KeyDown, Text: s.Text, Modifiers: mods},
			{Type: host.KeyUp, Modifiers: mods},
		}
	}
	def := specialKeys[strings.ToLower(s.Key)]
	down := host.KeyEvent{Type: host.KeyDown, Key: def.name, Code: def.name, VirtualKeyCode: def.code, Modifiers: mods}
	if s.Modifiers == 0 {
		down.Text = def.text
	}
	up := host.KeyEvent{Type: host.KeyUp, Key: def.name, Code: def.name, VirtualKeyCode: def.code, Modifiers: mods}
	return []host.KeyEvent{down, up}
}
