package browser

import (
	"encoding/json"

	"github.com/polzovatel/browser-pilot/internal/discovery"
	"github.com/polzovatel/browser-pilot/internal/navigation"
)

// Outcome is the structured result of one Controller action. Each action
// returns its own sealed subset of the variants below, so only outcomes
// that make sense for that action can be produced.
type Outcome interface {
	Success() bool
	Kind() string
	fields() map[string]any
}

type ClickOutcome interface {
	Outcome
	clickOutcome()
}

type TextClickOutcome interface {
	Outcome
	textClickOutcome()
}

type TypeOutcome interface {
	Outcome
	typeOutcome()
}

type FindOutcome interface {
	Outcome
	findOutcome()
}

type ScrollOutcome interface {
	Outcome
	scrollOutcome()
}

type BackOutcome interface {
	Outcome
	backOutcome()
}

type OpenOutcome interface {
	Outcome
	openOutcome()
}

// Navigation reports what happened to the URL after a click.
type Navigation struct {
	Changed bool
	NewURL  string
}

type Clicked struct {
	// Navigation is nil when the action does not watch for navigation.
	Navigation *Navigation
}

type Typed struct {
	Keys int
}

type Found struct {
	Elements []discovery.Briefing
	Total    int
}

type Scrolled struct {
	Direction navigation.Direction
	Delta     float64
}

type WentBack struct {
	NewURL string
}

type Opened struct {
	URL       string
	Confirmed bool
	FinalURL  string
}

type NotFound struct {
	Reason string
}

type MultipleFound struct {
	Candidates []discovery.Briefing
	Total      int
}

type NotEditable struct{}

type AtBoundary struct {
	Direction navigation.Direction
	Reason    string
}

type NoNavigation struct {
	Reason string
}

type NotOpened struct {
	Reason string
}

// Unavailable covers transient environment failures: the target vanished
// or the control channel could not be used.
type Unavailable struct {
	Reason string
}

func (Clicked) Success() bool       { return true }
func (Typed) Success() bool         { return true }
func (Found) Success() bool         { return true }
func (Scrolled) Success() bool      { return true }
func (WentBack) Success() bool      { return true }
func (Opened) Success() bool        { return true }
func (NotFound) Success() bool      { return false }
func (MultipleFound) Success() bool { return false }
func (NotEditable) Success() bool   { return false }
func (AtBoundary) Success() bool    { return false }
func (NoNavigation) Success() bool  { return false }
func (NotOpened) Success() bool     { return false }
func (Unavailable) Success() bool   { return false }

func (Clicked) Kind() string       { return "clicked" }
func (Typed) Kind() string         { return "typed" }
func (Found) Kind() string         { return "found" }
func (Scrolled) Kind() string      { return "scrolled" }
func (WentBack) Kind() string      { return "went-back" }
func (Opened) Kind() string        { return "opened" }
func (NotFound) Kind() string      { return "not-found" }
func (MultipleFound) Kind() string { return "multiple-found" }
func (NotEditable) Kind() string   { return "not-editable" }
func (AtBoundary) Kind() string    { return "at-boundary" }
func (NoNavigation) Kind() string  { return "no-navigation" }
func (NotOpened) Kind() string     { return "not-opened" }
func (Unavailable) Kind() string   { return "unavailable" }

func (o Clicked) fields() map[string]any {
	m := map[string]any{"clicked": true}
	if o.Navigation != nil {
		m["urlChanged"] = o.Navigation.Changed
		if o.Navigation.Changed {
			m["newUrl"] = o.Navigation.NewURL
		}
	}
	return m
}

func (o Typed) fields() map[string]any { return map[string]any{"keys": o.Keys} }

func (o Found) fields() map[string]any {
	return map[string]any{"elements": o.Elements, "total": o.Total}
}

func (o Scrolled) fields() map[string]any {
	return map[string]any{"scrolled": true, "direction": o.Direction, "delta": o.Delta}
}

func (o WentBack) fields() map[string]any {
	return map[string]any{"wentBack": true, "newUrl": o.NewURL}
}

func (o Opened) fields() map[string]any {
	m := map[string]any{"url": o.URL, "confirmed": o.Confirmed}
	if o.FinalURL != "" {
		m["finalUrl"] = o.FinalURL
	}
	return m
}

func (o NotFound) fields() map[string]any { return reason("not found", o.Reason) }

func (o MultipleFound) fields() map[string]any {
	return map[string]any{"reason": "multiple found", "candidates": o.Candidates, "total": o.Total}
}

func (NotEditable) fields() map[string]any { return map[string]any{"reason": "not editable"} }

func (o AtBoundary) fields() map[string]any {
	return map[string]any{"scrolled": false, "direction": o.Direction, "reason": o.Reason}
}

func (o NoNavigation) fields() map[string]any {
	m := reason("no navigation", o.Reason)
	m["wentBack"] = false
	return m
}

func (o NotOpened) fields() map[string]any   { return reason("not opened", o.Reason) }
func (o Unavailable) fields() map[string]any { return reason("unavailable", o.Reason) }

func reason(base, detail string) map[string]any {
	m := map[string]any{"reason": base}
	if detail != "" {
		m["detail"] = detail
	}
	return m
}

// Report renders an outcome as the flat map handed back to the planner.
func Report(o Outcome) map[string]any {
	m := o.fields()
	m["success"] = o.Success()
	m["outcome"] = o.Kind()
	return m
}

func (o Clicked) MarshalJSON() ([]byte, error)       { return json.Marshal(Report(o)) }
func (o Typed) MarshalJSON() ([]byte, error)         { return json.Marshal(Report(o)) }
func (o Found) MarshalJSON() ([]byte, error)         { return json.Marshal(Report(o)) }
func (o Scrolled) MarshalJSON() ([]byte, error)      { return json.Marshal(Report(o)) }
func (o WentBack) MarshalJSON() ([]byte, error)      { return json.Marshal(Report(o)) }
func (o Opened) MarshalJSON() ([]byte, error)        { return json.Marshal(Report(o)) }
func (o NotFound) MarshalJSON() ([]byte, error)      { return json.Marshal(Report(o)) }
func (o MultipleFound) MarshalJSON() ([]byte, error) { return json.Marshal(Report(o)) }
func (o NotEditable) MarshalJSON() ([]byte, error)   { return json.Marshal(Report(o)) }
func (o AtBoundary) MarshalJSON() ([]byte, error)    { return json.Marshal(Report(o)) }
func (o NoNavigation) MarshalJSON() ([]byte, error)  { return json.Marshal(Report(o)) }
func (o NotOpened) MarshalJSON() ([]byte, error)     { return json.Marshal(Report(o)) }
func (o Unavailable) MarshalJSON() ([]byte, error)   { return json.Marshal(Report(o)) }

func (Clicked) clickOutcome()     {}
func (NotFound) clickOutcome()    {}
func (Unavailable) clickOutcome() {}

func (Clicked) textClickOutcome()       {}
func (NotFound) textClickOutcome()      {}
func (MultipleFound) textClickOutcome() {}
func (Unavailable) textClickOutcome()   {}

func (Typed) typeOutcome()         {}
func (NotFound) typeOutcome()      {}
func (MultipleFound) typeOutcome() {}
func (NotEditable) typeOutcome()   {}
func (Unavailable) typeOutcome()   {}

func (Found) findOutcome()       {}
func (NotFound) findOutcome()    {}
func (Unavailable) findOutcome() {}

func (Scrolled) scrollOutcome()    {}
func (AtBoundary) scrollOutcome()  {}
func (Unavailable) scrollOutcome() {}

func (WentBack) backOutcome()     {}
func (NoNavigation) backOutcome() {}
func (Unavailable) backOutcome()  {}

func (Opened) openOutcome()      {}
func (NotOpened) openOutcome()   {}
func (Unavailable) openOutcome() {}
