package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/polzovatel/browser-pilot/internal/agent"
	"github.com/polzovatel/browser-pilot/internal/browser"
	"github.com/polzovatel/browser-pilot/internal/config"
	"github.com/polzovatel/browser-pilot/internal/history"
	"github.com/polzovatel/browser-pilot/internal/host"
	"github.com/polzovatel/browser-pilot/internal/llm"
	"github.com/polzovatel/browser-pilot/internal/tools"
	"github.com/polzovatel/browser-pilot/internal/vision"
)

const maxTaskLength = 2000

type cliOptions struct {
	task         string
	configPath   string
	resume       bool
	clearHistory bool
	storage      string
	saveState    string
	eventsPath   string
	headless     string
	cdpURL       string
	targetID     string
	startURL     string
	maxTurns     int
}

func main() {
	_ = godotenv.Load()
	opts := parseFlags()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid flags")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("history store")
	}
	defer store.Close()

	if opts.clearHistory {
		if err := store.Clear(ctx, history.LatestKey); err != nil {
			log.Fatal().Err(err).Msg("clear history")
		}
		fmt.Println("History cleared.")
		if opts.task == "" {
			return
		}
	}

	if opts.task == "" {
		task, cancelled, err := promptTask()
		if err != nil {
			log.Fatal().Err(err).Msg("prompt task failed")
		}
		if cancelled {
			fmt.Println("Cancelled.")
			return
		}
		opts.task = task
	}

	var start []history.Item
	if opts.resume {
		rec, err := store.Load(ctx, history.LatestKey)
		switch {
		case errors.Is(err, history.ErrNotFound):
			log.Info().Msg("no saved history, starting fresh")
		case err != nil:
			log.Fatal().Err(err).Msg("load history")
		default:
			start = rec.Items
			log.Info().Str("run", rec.RunID).Int("items", len(start)).Msg("resuming history")
		}
	}

	if err := run(ctx, cfg, opts, store, start); err != nil {
		log.Error().Err(err).Msg("run finished with error")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts cliOptions, store *history.Store, start []history.Item) error {
	hostLog := log.With().Str("comp", "host").Logger()

	var (
		h        host.Host
		target   host.TargetID
		pageHost *host.PageHost
	)
	if cfg.Browser.CDPURL != "" {
		remote, err := host.DialRemote(ctx, cfg.Browser.CDPURL, cfg.Browser.TargetID, hostLog)
		if err != nil {
			return fmt.Errorf("attach browser: %w", err)
		}
		defer remote.Close()
		h, target = remote, remote.Target()
	} else {
		headless := cfg.Browser.Headless
		launcher, err := host.NewLauncher(ctx, &headless, hostLog)
		if err != nil {
			return fmt.Errorf("browser init: %w", err)
		}
		defer launcher.Close()

		pageHost, err = launcher.NewPage(ctx, cfg.Browser.Storage)
		if err != nil {
			return fmt.Errorf("browser page: %w", err)
		}
		defer pageHost.Close(context.WithoutCancel(ctx))
		h, target = pageHost, pageHost.Target()
	}

	ctrl := browser.NewController(
		browser.NewSession(h, target),
		browser.Options{TypingMean: cfg.Typing.Mean(), TypingJitter: cfg.Typing.Jitter()},
		log.With().Str("comp", "browser").Logger(),
	)
	if cfg.Browser.StartURL != "" {
		out := ctrl.OpenURL(ctx, cfg.Browser.StartURL)
		log.Info().Str("url", cfg.Browser.StartURL).Str("outcome", out.Kind()).Msg("start page")
	}

	var describer vision.Describer
	if !cfg.Vision.Disabled {
		vcfg := vision.ConfigFromEnv()
		if cfg.Vision.Model != "" {
			vcfg.Model = cfg.Vision.Model
		}
		v, err := vision.NewOpenAI(vcfg, log.With().Str("comp", "vision").Logger())
		if err != nil {
			log.Warn().Err(err).Msg("vision describer disabled")
		} else {
			describer = v
		}
	}

	llmLog := log.With().Str("comp", "llm").Logger()
	client, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	}, llmLog)
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	toolbox := tools.New(ctrl, describer, log.With().Str("comp", "tools").Logger())
	orch := agent.NewOrchestrator(
		agent.Config{MaxTurns: cfg.Agent.MaxTurns},
		agent.NewPlanner(client, llmLog),
		toolbox,
		ctrl,
		log.With().Str("comp", "orch").Logger(),
	).WithRecorder(store)

	g, gctx := errgroup.WithContext(ctx)
	agentDone := make(chan struct{})

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-agentDone:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var end *agent.End
	g.Go(func() error {
		defer close(agentDone)
		fmt.Println("Starting task...")
		events, err := orch.Run(gctx, opts.task, start)
		if err != nil {
			return err
		}
		listeners := 1
		if opts.eventsPath != "" {
			listeners = 2
		}
		outs := agent.Fanout(events, listeners)

		var lg errgroup.Group
		if opts.eventsPath != "" {
			lg.Go(func() error { return writeEvents(opts.eventsPath, outs[1]) })
		}
		end = printEvents(outs[0])
		if err := lg.Wait(); err != nil {
			log.Warn().Err(err).Msg("event log")
		}
		if end == nil {
			return gctx.Err()
		}
		return end.Err
	})

	err = g.Wait()
	if pageHost != nil && opts.saveState != "" && end != nil && end.Err == nil {
		if serr := pageHost.SaveState(context.WithoutCancel(ctx), opts.saveState); serr != nil {
			log.Error().Err(serr).Msg("save state")
		} else {
			log.Info().Str("path", opts.saveState).Msg("storage saved")
		}
	}
	return err
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func printEvents(events <-chan agent.Event) *agent.End {
	var end *agent.End
	for ev := range events {
		switch {
		case ev.Step != nil:
			s := ev.Step
			mark := "ok"
			if !s.Success {
				mark = "--"
			}
			fmt.Printf("[%02d] %s %s", s.Turn, mark, s.Tool)
			if s.Explaining != "" {
				fmt.Printf(": %s", s.Explaining)
			}
			fmt.Println()
		case ev.End != nil:
			end = ev.End
			fmt.Printf("\n=== %s after %d turns ===\n", end.Phase, end.Turns)
			if end.Output != "" {
				fmt.Println(end.Output)
			}
		}
	}
	return end
}

// writeEvents appends one JSON line per event to path.
func writeEvents(path string, events <-chan agent.Event) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		for range events {
		}
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	var firstErr error
	for ev := range events {
		var rec any
		switch {
		case ev.Step != nil:
			rec = struct {
				Type string `json:"type"`
				*agent.Step
			}{"step", ev.Step}
		case ev.End != nil:
			errText := ""
			if ev.End.Err != nil {
				errText = ev.End.Err.Error()
			}
			rec = struct {
				Type  string `json:"type"`
				Error string `json:"error,omitempty"`
				*agent.End
			}{"end", errText, ev.End}
		default:
			continue
		}
		if err := enc.Encode(rec); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("write event log: %w", err)
		}
	}
	return firstErr
}

func parseFlags() cliOptions {
	task := flag.String("task", "", "Task description")
	cfgPath := flag.String("config", "", "Path to agent.yaml (default ./agent.yaml)")
	resume := flag.Bool("resume", false, "Continue from the latest saved history")
	clearHist := flag.Bool("clear-history", false, "Delete the latest saved history")
	storage := flag.String("storage", "", "Path to Playwright storage state")
	save := flag.String("save-state", "", "Path to save updated storage state")
	events := flag.String("events", "", "Append run events as JSON lines to this file")
	headless := flag.String("headless", "", "Run the launched browser headless (true/false)")
	cdp := flag.String("cdp", "", "DevTools endpoint of a running Chrome to attach to")
	target := flag.String("target", "", "Target id to bind when attaching with -cdp")
	startURL := flag.String("url", "", "Open this url before the task starts")
	maxTurns := flag.Int("max-turns", 0, "Max planner turns (default from config)")
	flag.Parse()
	return cliOptions{
		task:         strings.TrimSpace(*task),
		configPath:   strings.TrimSpace(*cfgPath),
		resume:       *resume,
		clearHistory: *clearHist,
		storage:      strings.TrimSpace(*storage),
		saveState:    strings.TrimSpace(*save),
		eventsPath:   strings.TrimSpace(*events),
		headless:     strings.TrimSpace(*headless),
		cdpURL:       strings.TrimSpace(*cdp),
		targetID:     strings.TrimSpace(*target),
		startURL:     strings.TrimSpace(*startURL),
		maxTurns:     *maxTurns,
	}
}

// apply lets flags win over the file and the environment.
func (o cliOptions) apply(cfg *config.Config) {
	if o.storage != "" {
		cfg.Browser.Storage = o.storage
	}
	if o.headless != "" {
		cfg.Browser.Headless = host.ParseBool(o.headless, cfg.Browser.Headless)
	}
	if o.cdpURL != "" {
		cfg.Browser.CDPURL = o.cdpURL
	}
	if o.targetID != "" {
		cfg.Browser.TargetID = o.targetID
	}
	if o.startURL != "" {
		cfg.Browser.StartURL = o.startURL
	}
	if o.maxTurns > 0 {
		cfg.Agent.MaxTurns = o.maxTurns
	}
}

func promptTask() (string, bool, error) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter a task (leave empty to cancel): ")
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", true, nil
	}

	if len(line) > maxTaskLength {
		fmt.Printf("Task too long (max %d characters), truncated\n", maxTaskLength)
		line = line[:maxTaskLength]
	}

	// drop control characters except whitespace
	var sanitized strings.Builder
	for _, r := range line {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			sanitized.WriteRune(r)
		}
	}
	return sanitized.String(), false, nil
}
