package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/browser-pilot/internal/history"
	"github.com/polzovatel/browser-pilot/internal/host"
	"github.com/polzovatel/browser-pilot/internal/tools"
)

const DefaultMaxTurns = 50

var ErrRunInProgress = errors.New("agent: run already in progress")

type Config struct {
	MaxTurns int
}

// Page is the bound target as the orchestrator sees it. *browser.Controller
// implements it.
type Page interface {
	CurrentURL(ctx context.Context) string
	Done() <-chan struct{}
}

// Recorder persists the transcript as it grows. *history.Store implements it.
type Recorder interface {
	Save(ctx context.Context, key, runID string, items []history.Item) error
}

type Orchestrator struct {
	cfg      Config
	planner  Planner
	tools    tools.Toolbox
	page     Page
	recorder Recorder
	logger   zerolog.Logger

	running atomic.Bool
	phase   phaseState
	newID   func() string
}

func NewOrchestrator(cfg Config, planner Planner, toolbox tools.Toolbox, page Page, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	o := &Orchestrator{
		cfg:     cfg,
		planner: planner,
		tools:   toolbox,
		page:    page,
		logger:  logger,
		newID:   uuid.NewString,
	}
	o.phase.set(PhaseIdle)
	return o
}

// WithRecorder saves the transcript under history.LatestKey after every step
// and at the end of each run.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

func (o *Orchestrator) Phase() Phase { return o.phase.get() }

// Run appends task to start and drives the planner until it answers, fails or
// runs out of turns. The channel yields step events in execution order, then
// exactly one End, then closes. Abandoning a run means cancelling ctx.
func (o *Orchestrator) Run(ctx context.Context, task string, start []history.Item) (<-chan Event, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	events := make(chan Event, 16)
	items := make([]history.Item, 0, len(start)+8)
	items = append(items, start...)
	items = append(items, history.User(task))

	r := &run{
		o:      o,
		id:     o.newID(),
		items:  items,
		events: events,
	}
	r.logger = o.logger.With().Str("run", r.id).Logger()

	go func() {
		defer close(events)
		defer o.running.Store(false)
		r.loop(ctx)
	}()
	return events, nil
}

type run struct {
	o      *Orchestrator
	id     string
	items  []history.Item
	turns  int
	events chan<- Event
	logger zerolog.Logger
}

func (r *run) loop(ctx context.Context) {
	o := r.o
	r.logger.Info().Int("history", len(r.items)-1).Int("max_turns", o.cfg.MaxTurns).Msg("run started")

	for r.turns < o.cfg.MaxTurns {
		if err := ctx.Err(); err != nil {
			r.fail(ctx, err)
			return
		}
		if r.targetGone() {
			r.fail(ctx, host.ErrTargetClosed)
			return
		}
		r.turns++

		o.phase.set(PhasePlanning)
		planStarted := time.Now()
		dec, err := o.planner.Next(ctx, PlanRequest{
			History:  r.items,
			Tools:    o.tools.Describe(),
			URL:      o.page.CurrentURL(ctx),
			Turn:     r.turns,
			MaxTurns: o.cfg.MaxTurns,
		})
		if err != nil {
			metricTurns.WithLabelValues("planner_error").Inc()
			r.fail(ctx, fmt.Errorf("planner: %w", err))
			return
		}

		if dec.Final() {
			metricTurns.WithLabelValues("final").Inc()
			r.items = append(r.items, history.Assistant(dec.Text))
			r.logger.Info().
				Int("turn", r.turns).
				Str("phase", string(PhaseDone)).
				Dur("duration", time.Since(planStarted)).
				Msg("final answer")
			r.finish(ctx, &End{Phase: PhaseDone, Success: true, Output: dec.Text})
			return
		}

		o.phase.set(PhaseExecuting)
		call := *dec.ToolCall
		if call.ID == "" {
			call.ID = fmt.Sprintf("call-%d", r.turns)
		}
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		r.items = append(r.items, history.ToolCall(dec.Text, call))

		started := time.Now()
		res, err := o.tools.Invoke(ctx, call.Name, call.Args)
		step := Step{
			RunID:       r.id,
			Turn:        r.turns,
			Tool:        call.Name,
			Args:        call.Args,
			Explaining:  explaining(call.Args),
			Observation: res.Observation,
			Success:     res.Success,
			Outcome:     res.Outcome,
			Duration:    time.Since(started),
		}
		if err != nil {
			step.Observation = errorObservation(err)
			step.Success = false
		}
		r.items = append(r.items, history.ToolResult(call.ID, call.Name, step.Observation))

		log := r.logger.Info()
		if err != nil {
			log = r.logger.Warn().Err(err)
		}
		log.Int("turn", r.turns).
			Str("tool", call.Name).
			Str("phase", string(PhaseExecuting)).
			Bool("success", step.Success).
			Str("outcome", step.Outcome).
			Dur("duration", step.Duration).
			Msg("tool executed")

		if !r.emit(ctx, Event{Step: &step}) {
			return
		}
		r.save(ctx)

		if err != nil {
			metricTurns.WithLabelValues("tool_error").Inc()
			r.fail(ctx, fmt.Errorf("tool %s: %w", call.Name, err))
			return
		}
		metricTurns.WithLabelValues("tool").Inc()
	}

	metricTurns.WithLabelValues("exhausted").Inc()
	r.logger.Warn().Int("turns", r.turns).Msg("turn budget exhausted")
	r.finish(ctx, &End{Phase: PhaseExhausted, Output: r.lastAssistantText()})
}

func (r *run) targetGone() bool {
	select {
	case <-r.o.page.Done():
		return true
	default:
		return false
	}
}

func (r *run) fail(ctx context.Context, err error) {
	r.logger.Error().Err(err).Int("turns", r.turns).Msg("run failed")
	r.finish(ctx, &End{Phase: PhaseFailed, Output: r.lastAssistantText(), Err: err})
}

func (r *run) finish(ctx context.Context, end *End) {
	r.o.phase.set(end.Phase)
	end.RunID = r.id
	end.Turns = r.turns
	end.History = append([]history.Item(nil), r.items...)
	r.save(ctx)
	metricRuns.WithLabelValues(string(end.Phase)).Inc()
	r.emit(ctx, Event{End: end})
}

// emit delivers ev unless the caller abandoned the run.
func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		r.logger.Debug().Msg("run abandoned")
		return false
	}
}

func (r *run) save(ctx context.Context) {
	if r.o.recorder == nil {
		return
	}
	if err := r.o.recorder.Save(context.WithoutCancel(ctx), history.LatestKey, r.id, r.items); err != nil {
		r.logger.Warn().Err(err).Msg("save history")
	}
}

func (r *run) lastAssistantText() string {
	for i := len(r.items) - 1; i >= 0; i-- {
		it := r.items[i]
		if it.Role == history.RoleAssistant && strings.TrimSpace(it.Content) != "" {
			return it.Content
		}
	}
	return ""
}

func explaining(args map[string]any) string {
	s, _ := args["explaining"].(string)
	return s
}

func errorObservation(err error) string {
	reason := err.Error()
	var argErr *tools.ArgumentError
	if errors.As(err, &argErr) {
		reason = "invalid arguments: " + argErr.Error()
	}
	b, _ := json.Marshal(map[string]any{"success": false, "reason": reason})
	return string(b)
}
