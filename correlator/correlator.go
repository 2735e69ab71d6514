// Package correlator runs campaign fetches over the live channel.
//
// A fetch registers a pending request, reconnects the transport with a fresh
// handshake, sends a fetch frame tagged with the request id and races a
// response listener against a timeout. Whatever happens the fetch completes
// exactly once, leaves the pending set, and releases the connection it
// opened.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/spotlight/auth"
	"github.com/justapithecus/spotlight/handshake"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/metrics"
	"github.com/justapithecus/spotlight/transport"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

// DefaultTimeout bounds a fetch from registration to completion.
const DefaultTimeout = 10 * time.Second

// Outcome describes how a fetch completed.
type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeSuperseded     Outcome = "superseded"
)

// Failed reports whether the outcome is a delivery failure. Canceled and
// superseded fetches were abandoned by the caller, not failed.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeTimeout, OutcomeTransportError, OutcomeMalformed:
		return true
	default:
		return false
	}
}

// Request describes one fetch.
type Request struct {
	Screen     string
	UserID     string
	Attributes map[string]any
	// Timeout overrides the correlator default when > 0.
	Timeout time.Duration
	// RequestID is minted when empty.
	RequestID string
}

// Result is the single completion value of a fetch. Campaigns is empty,
// never nil, for every outcome other than delivered.
type Result struct {
	RequestID string
	Screen    string
	Campaigns []types.Campaign
	Outcome   Outcome
	Err       error
	Duration  time.Duration
}

// Transport is the connection surface the correlator drives.
// Implemented by *transport.Conn.
type Transport interface {
	Connect(ctx context.Context, endpoint string, creds transport.Credentials, onMessage transport.Handler) (string, error)
	Disconnect()
	Release(identity string)
	Send(ctx context.Context, payload []byte) error
	Encoding() wire.Encoding
}

var _ Transport = (*transport.Conn)(nil)

// invalidator is implemented by credential sources that cache.
type invalidator interface {
	Invalidate()
}

// errRaceSettled ends the race group once either branch has an answer.
var errRaceSettled = errors.New("race settled")

// Config wires a Correlator.
type Config struct {
	Transport   Transport
	Handshaker  handshake.Handshaker
	Credentials auth.Source
	Timeout     time.Duration
	Logger      *log.Logger
	Metrics     *metrics.Collector
	Tracer      trace.Tracer
}

// Correlator owns the pending request set.
type Correlator struct {
	transport  Transport
	handshaker handshake.Handshaker
	creds      auth.Source
	timeout    time.Duration
	logger     *log.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer

	mu      sync.Mutex
	pending map[string]*Completion

	// connectMu serializes teardown and connect so a superseded fetch can
	// never replace the connection of the fetch that superseded it.
	connectMu sync.Mutex
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	c := &Correlator{
		transport:  cfg.Transport,
		handshaker: cfg.Handshaker,
		creds:      cfg.Credentials,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		pending:    make(map[string]*Completion),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/justapithecus/spotlight/correlator")
	}
	return c
}

// Pending returns the number of fetches in flight.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Disconnect tears down the live connection. In-flight fetches run into
// their timeout.
func (c *Correlator) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.transport.Disconnect()
}

// FetchCampaigns runs one fetch to completion. It never returns an error;
// failures are reported through Result.Outcome and Result.Err.
func (c *Correlator) FetchCampaigns(ctx context.Context, req Request) Result {
	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, span := c.tracer.Start(ctx, "correlator.fetch", trace.WithAttributes(
		attribute.String("spotlight.request_id", requestID),
		attribute.String("spotlight.screen", req.Screen),
	))
	defer span.End()

	comp := newCompletion(c.metrics.IncCompletionSuppressed)
	c.register(requestID, comp)
	c.metrics.IncFetchStarted()

	var identity string
	g, gctx := errgroup.WithContext(ctx)

	// Listener: set up the connection, then wait for the handle.
	g.Go(func() error {
		id, err := c.open(gctx, requestID, req, comp)
		identity = id
		if err != nil {
			if errors.Is(err, errRaceSettled) {
				return errRaceSettled
			}
			if gctx.Err() != nil {
				return nil
			}
			c.settle(comp, requestID, req.Screen, OutcomeTransportError, nil, err)
			return errRaceSettled
		}
		select {
		case <-comp.Done():
			return errRaceSettled
		case <-gctx.Done():
			return nil
		}
	})

	// Timeout.
	g.Go(func() error {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.settle(comp, requestID, req.Screen, OutcomeTimeout, nil,
				fmt.Errorf("no response within %s", timeout))
			return errRaceSettled
		case <-comp.Done():
			return errRaceSettled
		case <-gctx.Done():
			return nil
		}
	})

	_ = g.Wait()

	// Every exit path: complete, unregister, release.
	if !comp.Settled() {
		c.settle(comp, requestID, req.Screen, OutcomeCanceled, nil, ctx.Err())
	}
	result := comp.Result()
	c.unregister(requestID, comp)
	c.transport.Release(identity)

	result.Duration = time.Since(start)
	c.metrics.IncFetchOutcome(string(result.Outcome))
	span.SetAttributes(
		attribute.String("spotlight.outcome", string(result.Outcome)),
		attribute.Int("spotlight.campaigns", len(result.Campaigns)),
	)
	if result.Err != nil && result.Outcome.Failed() {
		span.RecordError(result.Err)
	}

	fields := map[string]any{
		"request_id":  requestID,
		"screen":      req.Screen,
		"outcome":     string(result.Outcome),
		"campaigns":   len(result.Campaigns),
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
	}
	if result.Outcome.Failed() {
		c.logger.Warn("campaign fetch failed", fields)
	} else {
		c.logger.Debug("campaign fetch completed", fields)
	}
	return result
}

// settle fulfills comp and logs a suppressed second completion at debug.
func (c *Correlator) settle(comp *Completion, requestID, screen string, outcome Outcome, campaigns []types.Campaign, err error) {
	if campaigns == nil {
		campaigns = []types.Campaign{}
	}
	won := comp.Fulfill(Result{
		RequestID: requestID,
		Screen:    screen,
		Campaigns: campaigns,
		Outcome:   outcome,
		Err:       err,
	})
	if !won && outcome != OutcomeCanceled {
		c.logger.Debug("completion suppressed", map[string]any{
			"request_id": requestID,
			"outcome":    string(outcome),
		})
	}
}

func (c *Correlator) register(requestID string, comp *Completion) {
	c.mu.Lock()
	previous := make([]string, 0, len(c.pending))
	for id, other := range c.pending {
		c.settle(other, id, "", OutcomeSuperseded, nil, nil)
		previous = append(previous, id)
	}
	c.pending[requestID] = comp
	c.mu.Unlock()

	if len(previous) > 0 {
		c.logger.Debug("superseded pending fetches", map[string]any{
			"request_id": requestID,
			"superseded": previous,
		})
	}
}

func (c *Correlator) unregister(requestID string, comp *Completion) {
	c.mu.Lock()
	if c.pending[requestID] == comp {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
}

// open tears down the live connection, performs the handshake, connects and
// sends the fetch frame. It returns the identity of the connection it
// opened, if any.
func (c *Correlator) open(ctx context.Context, requestID string, req Request, comp *Completion) (string, error) {
	c.connectMu.Lock()
	if !comp.Settled() {
		c.transport.Disconnect()
	}
	c.connectMu.Unlock()

	credential, err := c.creds.Credential(ctx)
	if err != nil {
		return "", fmt.Errorf("obtain credential: %w", err)
	}

	desc, err := c.handshaker.Handshake(ctx, credential, types.HandshakeRequest{
		ScreenName: req.Screen,
		UserID:     req.UserID,
		Attributes: req.Attributes,
	})
	if err != nil {
		var statusErr *handshake.StatusError
		if errors.As(err, &statusErr) && statusErr.Unauthorized() {
			if inv, ok := c.creds.(invalidator); ok {
				inv.Invalidate()
			}
		}
		return "", fmt.Errorf("handshake: %w", err)
	}

	enc := c.transport.Encoding()
	onMessage := func(_ string, msg []byte) {
		go c.deliver(enc, requestID, req.Screen, comp, msg)
	}

	c.connectMu.Lock()
	if comp.Settled() {
		c.connectMu.Unlock()
		return "", errRaceSettled
	}
	identity, err := c.transport.Connect(ctx, desc.Endpoint, transport.Credentials{
		Bearer:       credential,
		SessionToken: desc.SessionToken,
	}, onMessage)
	c.connectMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("connect: %w", err)
	}

	payload, err := wire.Encode(enc, &types.FetchFrame{
		Type:        types.FetchFrameType,
		WireVersion: types.WireVersion,
		RequestID:   requestID,
		ScreenName:  req.Screen,
		UserID:      req.UserID,
		Attributes:  req.Attributes,
	})
	if err != nil {
		return identity, err
	}
	if err := c.transport.Send(ctx, payload); err != nil {
		return identity, fmt.Errorf("send fetch frame: %w", err)
	}
	return identity, nil
}

// deliver decodes one message off the receive path and completes the fetch.
func (c *Correlator) deliver(enc wire.Encoding, requestID, screen string, comp *Completion, msg []byte) {
	if comp.Settled() {
		c.metrics.IncCompletionSuppressed()
		c.logger.Debug("message after completion ignored", map[string]any{"request_id": requestID})
		return
	}

	env, err := wire.DecodeEnvelope(enc, msg)
	if err != nil {
		c.settle(comp, requestID, screen, OutcomeMalformed, nil, err)
		return
	}
	if env.RequestID != "" && env.RequestID != requestID {
		c.logger.Debug("ignored message for another request", map[string]any{
			"request_id": requestID,
			"tagged":     env.RequestID,
		})
		return
	}
	c.settle(comp, requestID, screen, OutcomeDelivered, types.FilterForScreen(env.Campaigns, screen), nil)
}
