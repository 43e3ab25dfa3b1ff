package agent

import (
	"sync"
	"time"

	"github.com/polzovatel/browser-pilot/internal/history"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
	PhaseExhausted Phase = "exhausted"
)

// Event is either a Step or the final End of a run. Exactly one of the two
// is set.
type Event struct {
	Step *Step
	End  *End
}

// Step reports one executed tool call.
type Step struct {
	RunID       string         `json:"runId"`
	Turn        int            `json:"turn"`
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args,omitempty"`
	Explaining  string         `json:"explaining,omitempty"`
	Observation string         `json:"observation"`
	Success     bool           `json:"success"`
	Outcome     string         `json:"outcome,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// End closes a run. History holds the full transcript, partial when the
// run failed.
type End struct {
	RunID   string         `json:"runId"`
	Phase   Phase          `json:"phase"`
	Success bool           `json:"success"`
	Output  string         `json:"output"`
	Turns   int            `json:"turns"`
	History []history.Item `json:"history"`
	Err     error          `json:"-"`
}

// Fanout copies every event of src to n listeners, in order. Each listener
// must be drained; all outputs close when src closes.
func Fanout(src <-chan Event, n int) []<-chan Event {
	outs := make([]chan Event, n)
	res := make([]<-chan Event, n)
	for i := range outs {
		outs[i] = make(chan Event, 16)
		res[i] = outs[i]
	}
	go func() {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for ev := range src {
			for _, out := range outs {
				out <- ev
			}
		}
	}()
	return res
}

// Collect drains events and returns the steps and the end event.
func Collect(events <-chan Event) ([]Step, *End) {
	var (
		steps []Step
		end   *End
	)
	for ev := range events {
		switch {
		case ev.Step != nil:
			steps = append(steps, *ev.Step)
		case ev.End != nil:
			end = ev.End
		}
	}
	return steps, end
}

type phaseState struct {
	mu    sync.Mutex
	phase Phase
}

func (p *phaseState) set(ph Phase) {
	p.mu.Lock()
	p.phase = ph
	p.mu.Unlock()
}

func (p *phaseState) get() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}
