// Package redis implements a Redis interaction adapter.
//
// Events are serialized as JSON and either PUBLISHed to a pub/sub channel
// or appended to a stream with XADD. Stream mode keeps events for consumers
// that are offline when they are reported.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/spotlight/adapter"
)

// DefaultChannel is the default channel (or stream key) name.
const DefaultChannel = "spotlight:interactions"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Mode selects how events are written.
type Mode string

const (
	// ModePubSub publishes to a pub/sub channel. Default.
	ModePubSub Mode = "pubsub"
	// ModeStream appends to a stream.
	ModeStream Mode = "stream"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel or stream key (default: spotlight:interactions).
	Channel string
	// Mode is pubsub or stream (default pubsub).
	Mode Mode
	// MaxLen caps the stream length approximately when > 0 (stream mode only).
	MaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// Adapter publishes interaction events to Redis.
type Adapter struct {
	config Config
	client *goredis.Client
}

// New creates a Redis adapter from the given config.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModePubSub
	case ModePubSub, ModeStream:
	default:
		return nil, fmt.Errorf("redis adapter: unknown mode %q (must be pubsub or stream)", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Adapter{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish writes the event to the configured channel or stream.
func (a *Adapter) Publish(ctx context.Context, event *adapter.InteractionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", a.config.Retries, nil, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
		return a.write(publishCtx, event, body)
	})
}

func (a *Adapter) write(ctx context.Context, event *adapter.InteractionEvent, body []byte) error {
	if a.config.Mode == ModePubSub {
		return a.client.Publish(ctx, a.config.Channel, body).Err()
	}
	args := &goredis.XAddArgs{
		Stream: a.config.Channel,
		Values: map[string]any{
			"event_name":  event.EventName,
			"campaign_id": event.CampaignID,
			"payload":     string(body),
		},
	}
	if a.config.MaxLen > 0 {
		args.MaxLen = a.config.MaxLen
		args.Approx = true
	}
	return a.client.XAdd(ctx, args).Err()
}

// Close releases adapter resources.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
