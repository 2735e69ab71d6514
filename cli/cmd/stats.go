package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/cli/render"
	"github.com/justapithecus/spotlight/cli/tui"
	"github.com/justapithecus/spotlight/journal"
)

// journalQueryTimeout bounds journal reads from the CLI.
const journalQueryTimeout = 30 * time.Second

// StatsCommand returns the stats command with subcommands.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Aggregate the delivery journal",
		Subcommands: []*cli.Command{
			statsSummaryCommand(),
			statsMetricsCommand(),
		},
	}
}

func filterFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "instance", Usage: "Only records from this engine instance id"},
		&cli.StringFlag{Name: "day", Usage: "Only records from this UTC day (YYYY-MM-DD)"},
		&cli.StringFlag{Name: "screen", Usage: "Only visits to this screen"},
	}
}

func journalFilter(c *cli.Context) (journal.Filter, error) {
	f := journal.Filter{
		InstanceID: c.String("instance"),
		Day:        c.String("day"),
		Screen:     c.String("screen"),
	}
	if f.Day != "" {
		if _, err := time.Parse("2006-01-02", f.Day); err != nil {
			return f, fmt.Errorf("invalid --day %q (want YYYY-MM-DD)", f.Day)
		}
	}
	return f, nil
}

func statsSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:   "summary",
		Usage:  "Summarize visit outcomes by phase, fetch outcome and screen",
		Flags:  append(append(ReadOnlyFlags(), JournalFlags()...), filterFlags()...),
		Action: statsSummaryAction,
	}
}

func statsSummaryAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	f, err := journalFilter(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	j, err := journalFromFlags(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, journalQueryTimeout)
	defer cancel()
	summary, err := journal.Summarize(ctx, j.Dataset(), f)
	if errors.Is(err, journal.ErrNoRecords) {
		return cli.Exit("no visits recorded", 1)
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	if c.Bool("tui") {
		return tui.Run(tui.ViewStatsSummary, summary)
	}
	return r.Render(summary)
}

func statsMetricsCommand() *cli.Command {
	return &cli.Command{
		Name:  "metrics",
		Usage: "Show the latest engine metrics record",
		Flags: append(append(ReadOnlyFlags(), JournalFlags()...),
			&cli.StringFlag{Name: "instance", Usage: "Read metrics for this engine instance id"},
		),
		Action: statsMetricsAction,
	}
}

func statsMetricsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	j, err := journalFromFlags(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, journalQueryTimeout)
	defer cancel()
	record, err := journal.LatestMetrics(ctx, j.Dataset(), c.String("instance"))
	if errors.Is(err, journal.ErrNoRecords) {
		return cli.Exit("no metrics recorded", 1)
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	if c.Bool("tui") {
		return tui.Run(tui.ViewStatsMetrics, record)
	}
	return r.Render(record)
}

func journalFromFlags(c *cli.Context) (*journal.Journal, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	j, err := openReadJournal(c.Context, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), 1)
	}
	return j, nil
}
