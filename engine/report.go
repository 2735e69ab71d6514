package engine

import (
	"context"
	"errors"
	"time"

	"github.com/justapithecus/spotlight/adapter"
	"github.com/justapithecus/spotlight/types"
)

// ErrNoAdapter is returned by ReportSync when reporting is disabled.
var ErrNoAdapter = errors.New("no interaction adapter configured")

// Report publishes an interaction event in the background. Failures go to
// the FailureSink and are never returned.
func (e *Engine) Report(event adapter.InteractionEvent) {
	if e.adapter == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.reports.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.reports.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.reportTimeout)
		defer cancel()
		_ = e.publish(ctx, event)
	}()
}

// ReportSync publishes an interaction event and waits for the outcome.
// A failure is also handed to the FailureSink.
func (e *Engine) ReportSync(ctx context.Context, event adapter.InteractionEvent) error {
	if e.adapter == nil {
		return ErrNoAdapter
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return e.publish(ctx, event)
}

func (e *Engine) publish(ctx context.Context, event adapter.InteractionEvent) error {
	e.fill(&event)

	err := e.adapter.Publish(ctx, &event)
	if err != nil {
		e.metrics.IncEventReportFailure()
		e.logger.Warn("interaction report failed", map[string]any{
			"event_name":  event.EventName,
			"campaign_id": event.CampaignID,
			"error":       err.Error(),
		})
		if e.sink != nil {
			e.sink.Failed(&event, err)
		}
		return err
	}
	e.metrics.IncEventReported()
	e.logger.Debug("interaction reported", map[string]any{
		"event_name":  event.EventName,
		"campaign_id": event.CampaignID,
	})
	return nil
}

func (e *Engine) fill(event *adapter.InteractionEvent) {
	if event.WireVersion == "" {
		event.WireVersion = types.WireVersion
	}
	if event.InstanceID == "" {
		event.InstanceID = e.id
	}
	if event.UserID == "" {
		event.UserID = e.userID
	}
	if event.Screen == "" {
		event.Screen = e.coordinator.Current().Screen
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
}
