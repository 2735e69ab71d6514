package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/cli/render"
	"github.com/justapithecus/spotlight/cli/tui"
	"github.com/justapithecus/spotlight/coordinator"
	"github.com/justapithecus/spotlight/engine"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/types"
)

// VisitRow is one replayed navigation in visit output.
type VisitRow struct {
	Transition uint64 `json:"transition" yaml:"transition"`
	Screen     string `json:"screen" yaml:"screen"`
	Phase      string `json:"phase" yaml:"phase"`
	Fetch      string `json:"fetch,omitempty" yaml:"fetch,omitempty"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	Campaigns  int    `json:"campaigns" yaml:"campaigns"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newVisitRow(o coordinator.VisitOutcome) VisitRow {
	row := VisitRow{
		Transition: uint64(o.Transition),
		Screen:     o.Screen,
		Phase:      string(o.Phase),
		Fetch:      string(o.Fetch),
		Source:     string(o.Source),
		Campaigns:  o.Campaigns,
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		row.Error = o.Err.Error()
	}
	return row
}

// VisitCommand returns the visit command, which replays a navigation
// sequence against the upstream.
func VisitCommand() *cli.Command {
	return &cli.Command{
		Name:      "visit",
		Usage:     "Replay a sequence of screen navigations and report each outcome",
		ArgsUsage: "[screen ...]",
		Flags: append(append(ReadOnlyFlags(), JournalFlags()...),
			&cli.StringFlag{Name: "api-url", Usage: "Upstream API base URL"},
			&cli.StringFlag{Name: "token", Usage: "Bearer credential for the handshake", EnvVars: []string{"SPOTLIGHT_TOKEN"}},
			&cli.StringFlag{Name: "user", Usage: "End-user id sent with every fetch"},
			&cli.StringFlag{Name: "encoding", Usage: "Live-channel encoding: json or msgpack"},
			&cli.StringFlag{Name: "log-level", Usage: "Log level: debug, info, warn, error"},
			&cli.DurationFlag{Name: "fetch-timeout", Usage: "Per-fetch timeout"},
			&cli.DurationFlag{Name: "debounce", Usage: "Coalesce same-screen navigations within this window"},
			&cli.StringSliceFlag{Name: "screen", Aliases: []string{"s"}, Usage: "Screen to visit (repeatable, comma separated)"},
			&cli.DurationFlag{Name: "interval", Usage: "Pause between navigations", Value: 0},
			&cli.StringSliceFlag{Name: "suppress", Usage: "Campaign ids hidden after each visit"},
			&cli.BoolFlag{Name: "metrics", Usage: "Render the engine metrics instead of the visit list"},
		),
		Action: visitAction,
	}
}

func visitAction(c *cli.Context) error {
	screens := splitScreens(append(c.StringSlice("screen"), c.Args().Slice()...))
	if len(screens) == 0 {
		return cli.Exit("at least one screen is required", 1)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ec, err := cfg.EngineConfig()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := setupTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	plan := replayPlan{
		screens:  screens,
		interval: c.Duration("interval"),
		suppress: c.StringSlice("suppress"),
	}
	if c.Bool("tui") {
		return runVisitTUI(ctx, ec, plan)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	eng, err := engine.New(ctx, ec)
	if err != nil {
		return err
	}
	progress := isStderrTTY()
	outcomes := plan.run(ctx, eng, func(o coordinator.VisitOutcome) {
		if progress {
			fmt.Fprintf(os.Stderr, "#%d %s: %s\n", o.Transition, o.Screen, o.Phase)
		}
	})
	snapshot := eng.Metrics()
	if err := eng.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: engine close: %v\n", err)
	}
	if ctx.Err() != nil {
		return cli.Exit("interrupted", 130)
	}

	if c.Bool("metrics") {
		return r.Render(snapshot.ToMap())
	}
	rows := make([]VisitRow, 0, len(outcomes))
	for _, o := range outcomes {
		rows = append(rows, newVisitRow(o))
	}
	return r.Render(rows)
}

// replayPlan is the navigation sequence a visit command replays.
type replayPlan struct {
	screens  []string
	interval time.Duration
	suppress []string
}

// run visits each screen in order and returns the outcomes. It stops early
// when ctx ends.
func (p replayPlan) run(ctx context.Context, eng *engine.Engine, each func(coordinator.VisitOutcome)) []coordinator.VisitOutcome {
	outcomes := make([]coordinator.VisitOutcome, 0, len(p.screens))
	for i, screen := range p.screens {
		if i > 0 && p.interval > 0 {
			timer := time.NewTimer(p.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return outcomes
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return outcomes
		}
		o := eng.Visit(ctx, coordinator.Visit{Screen: screen})
		for _, id := range p.suppress {
			eng.Suppress(id)
		}
		outcomes = append(outcomes, o)
		if each != nil {
			each(o)
		}
	}
	return outcomes
}

// runVisitTUI replays the plan while a watch view follows the engine.
func runVisitTUI(ctx context.Context, ec engine.Config, plan replayPlan) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.NewWatchModel("spotlight "+types.Version), tea.WithAltScreen(), tea.WithContext(ctx))
	ec.Logger = log.Nop()
	ec.OnVisit = func(o coordinator.VisitOutcome) { p.Send(tui.OutcomeMsg(o)) }

	eng, err := engine.New(ctx, ec)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var cancels []func()
	seen := make(map[string]bool)
	for _, screen := range plan.screens {
		key := types.NormalizeScreen(screen)
		if seen[key] {
			continue
		}
		seen[key] = true
		ch, unsubscribe := eng.Subscribe(screen)
		cancels = append(cancels, unsubscribe)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range ch {
				p.Send(tui.StateMsg(st))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		plan.run(ctx, eng, nil)
		p.Send(tui.DoneMsg{Err: ctx.Err()})
	}()

	_, runErr := p.Run()
	cancel()
	closeErr := eng.Close(context.Background())
	for _, unsubscribe := range cancels {
		unsubscribe()
	}
	wg.Wait()

	if errors.Is(runErr, tea.ErrProgramKilled) {
		runErr = nil
	}
	return errors.Join(runErr, closeErr)
}
