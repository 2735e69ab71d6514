package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/spotlight/adapter"
	"github.com/justapithecus/spotlight/cli/render"
	"github.com/justapithecus/spotlight/engine"
)

// ReportResult is the output of the report command.
type ReportResult struct {
	Status     string `json:"status" yaml:"status"`
	EventName  string `json:"event_name" yaml:"event_name"`
	CampaignID string `json:"campaign_id" yaml:"campaign_id"`
	Screen     string `json:"screen,omitempty" yaml:"screen,omitempty"`
	Adapter    string `json:"adapter" yaml:"adapter"`
}

// ReportCommand returns the report command, which publishes one
// interaction event through the configured adapter.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Publish a campaign interaction event through the configured adapter",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "api-url", Usage: "Upstream API base URL"},
			&cli.StringFlag{Name: "token", Usage: "Bearer credential for the handshake", EnvVars: []string{"SPOTLIGHT_TOKEN"}},
			&cli.StringFlag{Name: "user", Usage: "End-user id"},
			&cli.StringFlag{Name: "adapter", Usage: "Adapter type override: webhook or redis"},
			&cli.StringFlag{Name: "adapter-url", Usage: "Adapter URL override"},
			&cli.StringFlag{Name: "event", Usage: "Event name (e.g. impression, click)", Required: true},
			&cli.StringFlag{Name: "campaign", Usage: "Campaign id", Required: true},
			&cli.StringFlag{Name: "campaign-type", Usage: "Campaign type"},
			&cli.StringFlag{Name: "screen", Usage: "Screen the interaction happened on"},
			&cli.StringSliceFlag{Name: "meta", Usage: "Metadata key=value (repeatable)"},
		),
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for report command", 1)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("adapter") {
		cfg.Adapter.Type = c.String("adapter")
	}
	if c.IsSet("adapter-url") {
		cfg.Adapter.URL = c.String("adapter-url")
	}
	if cfg.Adapter.Type == "" {
		return cli.Exit("no adapter configured (set adapter.type or --adapter)", 1)
	}
	meta, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
	}
	eng, err := engine.New(c.Context, ec)
	if err != nil {
		return err
	}

	event := adapter.InteractionEvent{
		EventName:    c.String("event"),
		CampaignID:   c.String("campaign"),
		CampaignType: c.String("campaign-type"),
		Screen:       c.String("screen"),
		Metadata:     meta,
	}
	ctx, cancel := context.WithTimeout(c.Context, engine.DefaultReportTimeout)
	defer cancel()
	pubErr := eng.ReportSync(ctx, event)
	_ = eng.Close(context.Background())
	if pubErr != nil {
		return cli.Exit(fmt.Sprintf("report failed: %v", pubErr), 1)
	}

	return r.Render(ReportResult{
		Status:     "published",
		EventName:  event.EventName,
		CampaignID: event.CampaignID,
		Screen:     event.Screen,
		Adapter:    cfg.Adapter.Type,
	})
}

// parseMetadata turns key=value pairs into event metadata. "true" and
// "false" become booleans; everything else stays a string.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", p)
		}
		switch v {
		case "true":
			meta[k] = true
		case "false":
			meta[k] = false
		default:
			meta[k] = v
		}
	}
	return meta, nil
}
