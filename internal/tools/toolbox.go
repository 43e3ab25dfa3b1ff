package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/navigation"
	"github.com/polzovatel/browser-pilot/internal/vision"
)

const (
	ClickElement         = "clickElement"
	TypeInElement        = "typeInElement"
	TypeInFocusedElement = "typeInFocusedElement"
	FindElementsWithText = "findElementsWithText"
	ClickElementWithText = "clickElementWithText"
	Scroll               = "scroll"
	GoBack               = "goBack"
	OpenURL              = "openUrl"
	GetCurrentURL        = "getCurrentUrl"
	SeePage              = "seePage"
	SeeChanges           = "seeChanges"

	explainingField = "explaining"
)

// Browser is the page action surface the tools drive. *browser.Controller
// implements it.
type Browser interface {
	ClickElement(ctx context.Context, selector string) browser.ClickOutcome
	TypeInElement(ctx context.Context, selector, text string) (browser.TypeOutcome, error)
	TypeInFocusedElement(ctx context.Context, text string) browser.TypeOutcome
	FindElementsWithText(ctx context.Context, text string) browser.FindOutcome
	ClickElementWithText(ctx context.Context, text string) browser.TextClickOutcome
	Scroll(ctx context.Context, dir navigation.Direction) browser.ScrollOutcome
	GoBack(ctx context.Context) browser.BackOutcome
	OpenURL(ctx context.Context, url string) browser.OpenOutcome
	CurrentURL(ctx context.Context) string
	TakeScreenshot(ctx context.Context) string
}

type Toolbox interface {
	Describe() []Tool
	Invoke(ctx context.Context, name string, input map[string]any) (Result, error)
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Result is what the planner sees after a tool ran. Observation is a JSON
// object; Outcome is the outcome kind for browser actions.
type Result struct {
	Observation string
	Success     bool
	Outcome     string
}

// ArgumentError marks tool input that failed validation.
type ArgumentError struct {
	Tool  string
	Field string
	Err   error
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool %s: field %s: %v", e.Tool, e.Field, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

var ErrUnknownTool = errors.New("unknown tool")

type standard struct {
	ctrl   Browser
	vision vision.Describer
	logger zerolog.Logger
	tools  []Tool
	byName map[string]Tool

	mu       sync.Mutex
	lastShot string
}

// New builds the toolbox. A nil describer drops seePage and seeChanges.
func New(ctrl Browser, describer vision.Describer, logger zerolog.Logger) Toolbox {
	ts := []Tool{
		newTool(ClickElement, "Click on the element matching a CSS selector.",
			schema{"selector": str("CSS selector of the element to click")}, []string{"selector"}),
		newTool(TypeInElement, "Focus the element matching a CSS selector and type into it. Supports {Enter}, {Tab}, {Backspace}, {Delete}, {Escape}, arrow keys, {Home}, {End} and modifiers like {Ctrl+Home}.",
			schema{"selector": str("CSS selector of the element to type in"), "text": str("text to type")}, []string{"selector", "text"}),
		newTool(TypeInFocusedElement, "Type text into the focused element. Newlines press Enter.",
			schema{"text": str("text to type")}, []string{"text"}),
		newTool(FindElementsWithText, "Find visible or interactive elements containing the given text.",
			schema{"text": str("text to find in the page")}, []string{"text"}),
		newTool(ClickElementWithText, "Click the only element containing the given text and report whether the page navigated.",
			schema{"text": str("text of the element to click")}, []string{"text"}),
		newTool(Scroll, "Scroll the page one step.",
			schema{"direction": enum("direction to scroll", string(navigation.Up), string(navigation.Down))}, []string{"direction"}),
		newTool(GoBack, "Go back to the previous page.", schema{}, nil),
		newTool(OpenURL, "Open the given url in the current tab.",
			schema{"url": str("url to open")}, []string{"url"}),
		newTool(GetCurrentURL, "Get the current url of the page.", schema{}, nil),
	}
	if describer != nil {
		ts = append(ts,
			newTool(SeePage, "Take a screenshot of the page and describe it. Use it at the start and after navigating.",
				schema{"prompt": str("what to look for in the screenshot")}, []string{"prompt"}),
			newTool(SeeChanges, "Take a screenshot and describe what changed since the last one you saw.",
				schema{"prompt": str("what change to look for")}, []string{"prompt"}),
		)
	}
	s := &standard{
		ctrl:   ctrl,
		vision: describer,
		logger: logger,
		tools:  ts,
		byName: make(map[string]Tool, len(ts)),
	}
	for _, t := range ts {
		s.byName[t.Name] = t
	}
	return s
}

func (s *standard) Describe() []Tool {
	return append([]Tool(nil), s.tools...)
}

func (s *standard) Invoke(ctx context.Context, name string, input map[string]any) (Result, error) {
	t, ok := s.byName[name]
	if !ok {
		return Result{}, &ArgumentError{Tool: name, Err: ErrUnknownTool}
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := validate(t, input); err != nil {
		return Result{}, err
	}
	s.logger.Info().
		Str("tool", name).
		Str("explaining", optionalString(input, explainingField)).
		Msg("tool call")

	switch name {
	case ClickElement:
		return outcome(s.ctrl.ClickElement(ctx, field(input, "selector")))

	case TypeInElement:
		out, err := s.ctrl.TypeInElement(ctx, field(input, "selector"), field(input, "text"))
		if err != nil {
			return Result{}, &ArgumentError{Tool: name, Field: "text", Err: err}
		}
		return outcome(out)

	case TypeInFocusedElement:
		return outcome(s.ctrl.TypeInFocusedElement(ctx, field(input, "text")))

	case FindElementsWithText:
		return outcome(s.ctrl.FindElementsWithText(ctx, field(input, "text")))

	case ClickElementWithText:
		return outcome(s.ctrl.ClickElementWithText(ctx, field(input, "text")))

	case Scroll:
		dir, err := navigation.ParseDirection(field(input, "direction"))
		if err != nil {
			return Result{}, &ArgumentError{Tool: name, Field: "direction", Err: err}
		}
		return outcome(s.ctrl.Scroll(ctx, dir))

	case GoBack:
		return outcome(s.ctrl.GoBack(ctx))

	case OpenURL:
		return outcome(s.ctrl.OpenURL(ctx, field(input, "url")))

	case GetCurrentURL:
		u := s.ctrl.CurrentURL(ctx)
		if u == "" {
			return observe(false, map[string]any{"reason": "url unavailable"})
		}
		return observe(true, map[string]any{"url": u})

	case SeePage:
		return s.seePage(ctx, field(input, "prompt"))

	case SeeChanges:
		return s.seeChanges(ctx, field(input, "prompt"))
	}
	return Result{}, &ArgumentError{Tool: name, Err: ErrUnknownTool}
}

func (s *standard) seePage(ctx context.Context, prompt string) (Result, error) {
	shot := s.ctrl.TakeScreenshot(ctx)
	if shot == "" {
		return observe(false, map[string]any{"reason": "screenshot unavailable"})
	}
	desc, err := s.vision.Describe(ctx, shot, prompt)
	if err != nil {
		return Result{}, err
	}
	s.remember(shot)
	return observe(true, map[string]any{"description": desc})
}

// seeChanges diffs against the last screenshot shown to the planner. With no
// earlier screenshot it falls back to a plain description.
func (s *standard) seeChanges(ctx context.Context, prompt string) (Result, error) {
	shot := s.ctrl.TakeScreenshot(ctx)
	if shot == "" {
		return observe(false, map[string]any{"reason": "screenshot unavailable"})
	}
	s.mu.Lock()
	before := s.lastShot
	s.mu.Unlock()

	if before == "" {
		desc, err := s.vision.Describe(ctx, shot, prompt)
		if err != nil {
			return Result{}, err
		}
		s.remember(shot)
		return observe(true, map[string]any{"description": desc, "baseline": false})
	}
	diff, err := s.vision.Diff(ctx, before, shot, prompt)
	if err != nil {
		return Result{}, err
	}
	s.remember(shot)
	return observe(true, map[string]any{"changes": diff, "baseline": true})
}

func (s *standard) remember(shot string) {
	s.mu.Lock()
	s.lastShot = shot
	s.mu.Unlock()
}

func outcome(o browser.Outcome) (Result, error) {
	raw, err := json.Marshal(browser.Report(o))
	if err != nil {
		return Result{}, fmt.Errorf("marshal outcome: %w", err)
	}
	return Result{Observation: string(raw), Success: o.Success(), Outcome: o.Kind()}, nil
}

func observe(success bool, fields map[string]any) (Result, error) {
	fields["success"] = success
	raw, err := json.Marshal(fields)
	if err != nil {
		return Result{}, fmt.Errorf("marshal observation: %w", err)
	}
	return Result{Observation: string(raw), Success: success}, nil
}

// Helpers for schema and extraction.
type schema map[string]any

// newTool adds the explaining field every tool requires.
func newTool(name, desc string, props schema, required []string) Tool {
	props[explainingField] = str("short, non-technical reason for this call")
	return Tool{
		Name:        name,
		Description: desc,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any(props),
			"required":   append([]string{explainingField}, required...),
		},
	}
}

func str(desc string) map[string]any { return map[string]any{"type": "string", "description": desc} }

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

// validate checks required fields and enums against the tool schema.
// explaining must be a string but may be empty.
func validate(t Tool, input map[string]any) error {
	required, _ := t.InputSchema["required"].([]string)
	props, _ := t.InputSchema["properties"].(map[string]any)
	for _, key := range required {
		if key == explainingField {
			v, ok := input[key]
			if !ok {
				return &ArgumentError{Tool: t.Name, Field: key, Err: errors.New("required")}
			}
			if _, ok := v.(string); !ok {
				return &ArgumentError{Tool: t.Name, Field: key, Err: errors.New("must be string")}
			}
			continue
		}
		v, err := requiredString(input, key, !nonBlank[key])
		if err != nil {
			return &ArgumentError{Tool: t.Name, Field: key, Err: err}
		}
		prop, _ := props[key].(map[string]any)
		if values, ok := prop["enum"].([]string); ok && !contains(values, v) {
			return &ArgumentError{Tool: t.Name, Field: key, Err: fmt.Errorf("must be one of %s", strings.Join(values, ", "))}
		}
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// nonBlank lists the fields that must carry more than whitespace. Text and
// prompt fields accept any string: "\n" presses Enter, " " types a space.
var nonBlank = map[string]bool{"selector": true, "url": true, "direction": true}

func requiredString(input map[string]any, key string, allowBlank bool) (string, error) {
	val, ok := input[key]
	if !ok {
		return "", errors.New("required")
	}
	switch v := val.(type) {
	case string:
		if !allowBlank && strings.TrimSpace(v) == "" {
			return "", errors.New("empty")
		}
		return v, nil
	case json.Number:
		return v.String(), nil
	default:
		return "", errors.New("must be string")
	}
}

func optionalString(input map[string]any, key string) string {
	val, ok := input[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// field reads a field validate already accepted.
func field(input map[string]any, key string) string {
	return optionalString(input, key)
}
