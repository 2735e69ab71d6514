package config

import (
	"fmt"

	"github.com/justapithecus/spotlight/adapter"
	redisadapter "github.com/justapithecus/spotlight/adapter/redis"
	"github.com/justapithecus/spotlight/adapter/webhook"
	"github.com/justapithecus/spotlight/auth"
	"github.com/justapithecus/spotlight/engine"
	"github.com/justapithecus/spotlight/wire"
)

// EngineConfig converts the file into an engine.Config. The adapter, when
// configured, is built here; the caller owns it through the engine.
// Logger, Tracer and OnVisit are left for the caller.
func (c *Config) EngineConfig() (engine.Config, error) {
	if err := c.Validate(); err != nil {
		return engine.Config{}, err
	}
	enc, err := wire.ParseEncoding(c.Encoding)
	if err != nil {
		return engine.Config{}, err
	}

	cfg := engine.Config{
		APIURL:               c.APIURL,
		Credentials:          auth.NewCached(auth.Static(c.Token), 0),
		UserID:               c.UserID,
		Encoding:             enc,
		MaxMessageSize:       c.Live.MaxMessageBytes,
		SettleDelay:          c.Live.SettleDelay.Duration,
		SuppressDuplicates:   c.Live.SuppressDuplicates,
		FetchTimeout:         c.Live.FetchTimeout.Duration,
		Debounce:             c.Navigation.Debounce.Duration,
		SnapshotCapacity:     c.Navigation.SnapshotCapacity,
		SnapshotMaxAge:       c.Navigation.SnapshotMaxAge.Duration,
		Journal:              c.JournalConfig(),
		JournalFlushCount:    c.Journal.FlushCount,
		JournalFlushInterval: c.Journal.FlushInterval.Duration,
		LogLevel:             c.Log.Level,
	}

	a, err := c.BuildAdapter()
	if err != nil {
		return engine.Config{}, err
	}
	cfg.Adapter = a
	return cfg, nil
}

// BuildAdapter builds the configured interaction adapter, or nil when
// reporting is disabled.
func (c *Config) BuildAdapter() (adapter.Adapter, error) {
	a := c.Adapter
	switch a.Type {
	case "":
		return nil, nil
	case "webhook":
		wh, err := webhook.New(webhook.Config{
			URL:     a.URL,
			Headers: a.Headers,
			Timeout: a.Timeout.Duration,
			Retries: a.Retries,
		})
		if err != nil {
			return nil, err
		}
		return wh, nil
	case "redis":
		rd, err := redisadapter.New(redisadapter.Config{
			URL:     a.URL,
			Channel: a.Channel,
			Mode:    redisadapter.Mode(a.Mode),
			MaxLen:  a.MaxLen,
			Timeout: a.Timeout.Duration,
			Retries: a.Retries,
		})
		if err != nil {
			return nil, err
		}
		return rd, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", a.Type)
	}
}
