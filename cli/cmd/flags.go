// Package cmd provides CLI commands for the spotlight binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (visit, stats, inspect only)",
	}

	// ConfigFlag points at a YAML or TOML config file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a YAML or TOML config file",
		EnvVars: []string{"SPOTLIGHT_CONFIG"},
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can give an explicit error
// instead of a generic "flag not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// JournalFlags select the journal a read command queries. They override
// the journal section of --config.
func JournalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{Name: "journal-backend", Usage: "Journal backend: fs or s3"},
		&cli.StringFlag{Name: "journal-path", Usage: "Journal path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "journal-dataset", Usage: "Journal dataset id (default \"spotlight\")"},
		&cli.StringFlag{Name: "journal-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "journal-endpoint", Usage: "Custom S3 endpoint (R2, MinIO)"},
		&cli.BoolFlag{Name: "journal-s3-path-style", Usage: "Use path-style S3 addressing"},
	}
}
