package navigation

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

const (
	ReasonTop    = "already at the top"
	ReasonBottom = "already at the bottom"

	minScrollDelta = 50
	scrollFraction = 0.8
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	default:
		return "", fmt.Errorf("direction must be up or down, got %q", s)
	}
}

// ScrollState is what ScrollScript reads from the page.
type ScrollState struct {
	Y              float64 `json:"y"`
	MaxY           float64 `json:"maxY"`
	ViewportHeight float64 `json:"vh"`
	CenterX        float64 `json:"cx"`
	CenterY        float64 `json:"cy"`
}

func DecodeScrollState(raw []byte) (ScrollState, error) {
	var s ScrollState
	if err := json.Unmarshal(raw, &s); err != nil {
		return ScrollState{}, fmt.Errorf("decode scroll state: %w", err)
	}
	return s, nil
}

// PlanScroll returns the signed wheel delta for dir, or the boundary
// reason when the page already sits at the requested edge.
func PlanScroll(s ScrollState, dir Direction) (delta float64, reason string) {
	switch dir {
	case Up:
		if s.Y <= 0 {
			return 0, ReasonTop
		}
	case Down:
		if s.Y >= s.MaxY-1 {
			return 0, ReasonBottom
		}
	}
	delta = math.Max(minScrollDelta, math.Floor(s.ViewportHeight*scrollFraction+0.5))
	if dir == Up {
		delta = -delta
	}
	return delta, ""
}

const ScrollScript = `() => {
	const se = document.scrollingElement || document.documentElement;
	const vh = window.innerHeight;
	return {
		y: window.scrollY,
		maxY: Math.max(0, se.scrollHeight - vh),
		vh,
		cx: Math.floor(window.innerWidth / 2),
		cy: Math.floor(vh / 2),
	};
}`
