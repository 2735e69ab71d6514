package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/cli/render"
	"github.com/justapithecus/spotlight/cli/tui"
	"github.com/justapithecus/spotlight/journal"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect delivery journal records",
		Subcommands: []*cli.Command{
			inspectVisitsCommand(),
		},
	}
}

func inspectVisitsCommand() *cli.Command {
	return &cli.Command{
		Name:  "visits",
		Usage: "List recorded visits, newest first",
		Flags: append(append(append(ReadOnlyFlags(), JournalFlags()...), filterFlags()...),
			&cli.IntFlag{Name: "limit", Usage: "Maximum visits to show (0 = all)", Value: 50},
		),
		Action: inspectVisitsAction,
	}
}

func inspectVisitsAction(c *cli.Context) error {
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
	visits, err := journal.Visits(ctx, j.Dataset(), f, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if visits == nil {
		visits = []journal.VisitRecord{}
	}

	if c.Bool("tui") {
		return tui.Run(tui.ViewInspectVisits, visits)
	}
	return r.Render(visits)
}
