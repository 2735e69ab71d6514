// Package adapter defines the interaction-reporting boundary.
//
// Adapters publish campaign interaction events (impressions, clicks,
// dismissals) to downstream systems. Reporting is fire-and-forget from the
// engine's point of view: a failed publish is handed to a FailureSink and
// never surfaces to the caller.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// InteractionEvent is the payload published for one campaign interaction.
type InteractionEvent struct {
	WireVersion  string         `json:"wire_version"`
	EventName    string         `json:"event_name"`
	CampaignID   string         `json:"campaign_id"`
	CampaignType string         `json:"campaign_type,omitempty"`
	Screen       string         `json:"screen"`
	UserID       string         `json:"user_id,omitempty"`
	InstanceID   string         `json:"instance_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    string         `json:"timestamp"` // RFC 3339
}

// Adapter publishes interaction events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *InteractionEvent) error

	// Close releases adapter resources.
	Close() error
}

// FailureSink receives events that could not be published, e.g. to queue
// them for a later retry. The queue itself lives outside the engine.
type FailureSink interface {
	Failed(event *InteractionEvent, err error)
}

// FailureFunc adapts a function to FailureSink.
type FailureFunc func(event *InteractionEvent, err error)

// Failed calls f.
func (f FailureFunc) Failed(event *InteractionEvent, err error) { f(event, err) }

// Backoff returns the wait before retry attempt n (n >= 1):
// 500ms, 1s, 2s, ...
func Backoff(n int) time.Duration {
	if n < 1 {
		return 0
	}
	return time.Duration(1<<uint(n-1)) * 500 * time.Millisecond
}

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when ctx ends or permanent reports true for an
// error. name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}
		if i > 0 {
			timer := time.NewTimer(Backoff(i))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
