// Package main provides the spotlight CLI entrypoint.
//
// Usage:
//
//	spotlight <command> [subcommand] [options]
//
// Commands: visit, serve, report, stats, inspect, version. Failures exit
// with 1 unless a command chose a code via cli.Exit (130 on interrupt).
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/cli/cmd"
	"github.com/justapithecus/spotlight/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "spotlight",
		Usage:          "Screen-aware campaign delivery client",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.VisitCommand(),
			cmd.ServeCommand(),
			cmd.ReportCommand(),
			cmd.StatsCommand(),
			cmd.InspectCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler exits with the code carried by cli.Exit errors.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(exitCode(os.Stderr, err))
}

// exitCode prints err to w unless it carries no message and returns the
// process exit code.
func exitCode(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is "exit status N"; nothing to say.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
