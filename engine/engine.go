// Package engine is the single owning context of a campaign delivery client.
//
// An Engine wires the live transport, the handshake client, the request
// correlator, the screen transition coordinator, the snapshot cache, the
// delivery journal and interaction reporting. Engines are independent of
// each other; several can coexist in one process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/justapithecus/spotlight/adapter"
	"github.com/justapithecus/spotlight/auth"
	"github.com/justapithecus/spotlight/coordinator"
	"github.com/justapithecus/spotlight/correlator"
	"github.com/justapithecus/spotlight/handshake"
	"github.com/justapithecus/spotlight/journal"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/metrics"
	"github.com/justapithecus/spotlight/snapshot"
	"github.com/justapithecus/spotlight/transport"
	"github.com/justapithecus/spotlight/types"
	"github.com/justapithecus/spotlight/wire"
)

// Defaults for the journal buffer and interaction reporting.
const (
	DefaultJournalFlushCount    = 64
	DefaultJournalFlushInterval = 5 * time.Second
	DefaultReportTimeout        = 15 * time.Second
)

// ErrClosed is returned by ReportSync on a closed Engine and carried in the
// Err of fetch and visit results produced after Close.
var ErrClosed = errors.New("engine closed")

// Config configures an Engine. APIURL and Credentials are required.
type Config struct {
	APIURL      string
	Credentials auth.Source
	UserID      string

	Encoding           wire.Encoding
	MaxMessageSize     int
	SettleDelay        time.Duration
	SuppressDuplicates bool
	FetchTimeout       time.Duration
	Debounce           time.Duration

	SnapshotCapacity int
	SnapshotMaxAge   time.Duration

	// Journal, when set, persists visit outcomes and a final metrics record.
	Journal              *journal.Config
	JournalFlushCount    int
	JournalFlushInterval time.Duration

	// Adapter publishes interaction events. Nil disables reporting.
	Adapter       adapter.Adapter
	FailureSink   adapter.FailureSink
	ReportTimeout time.Duration

	// OnVisit is called after every finished navigation.
	OnVisit func(coordinator.VisitOutcome)

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *log.Logger
	LogLevel   string
	Tracer     trace.Tracer
}

// Engine is a campaign delivery client.
type Engine struct {
	id            string
	userID        string
	logger        *log.Logger
	metrics       *metrics.Collector
	conn          *transport.Conn
	correlator    *correlator.Correlator
	coordinator   *coordinator.Coordinator
	journal       *journal.Journal
	buffer        *journal.Buffer
	adapter       adapter.Adapter
	sink          adapter.FailureSink
	reportTimeout time.Duration
	onVisit       func(coordinator.VisitOutcome)

	// mu orders Report's and enter's WaitGroup.Add before Close's Wait.
	mu        sync.Mutex
	closed    bool
	reports   sync.WaitGroup
	active    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New builds an Engine. ctx bounds backend initialization only.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.Credentials == nil {
		return nil, errors.New("engine: credentials are required")
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = wire.EncodingJSON
	}
	hs, err := handshake.NewClient(cfg.APIURL, cfg.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	id := uuid.NewString()
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewLogger(log.Session{InstanceID: id, UserID: cfg.UserID})
	}
	if cfg.LogLevel != "" && !logger.SetLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("engine: unknown log level %q", cfg.LogLevel)
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/justapithecus/spotlight/engine")
	}

	backend := "none"
	if cfg.Journal != nil {
		backend = cfg.Journal.Backend
		if backend == "" {
			backend = journal.BackendMemory
		}
	}
	m := metrics.NewCollector(id, string(enc), backend)

	e := &Engine{
		id:            id,
		userID:        cfg.UserID,
		logger:        logger,
		metrics:       m,
		adapter:       cfg.Adapter,
		sink:          cfg.FailureSink,
		reportTimeout: cfg.ReportTimeout,
		onVisit:       cfg.OnVisit,
	}
	if e.reportTimeout <= 0 {
		e.reportTimeout = DefaultReportTimeout
	}

	if cfg.Journal != nil {
		if err := e.openJournal(ctx, cfg); err != nil {
			return nil, err
		}
	}

	e.conn = transport.New(transport.Options{
		Encoding:           enc,
		MaxMessageSize:     cfg.MaxMessageSize,
		SettleDelay:        cfg.SettleDelay,
		SuppressDuplicates: cfg.SuppressDuplicates,
		Dialer:             cfg.Dialer,
		Logger:             logger.Named("transport"),
		Metrics:            m,
	})
	e.correlator = correlator.New(correlator.Config{
		Transport:   e.conn,
		Handshaker:  hs,
		Credentials: cfg.Credentials,
		Timeout:     cfg.FetchTimeout,
		Logger:      logger.Named("correlator"),
		Metrics:     m,
		Tracer:      tracer,
	})
	e.coordinator = coordinator.New(coordinator.Config{
		Fetcher:      e.correlator,
		Cache:        snapshot.New(cfg.SnapshotCapacity, cfg.SnapshotMaxAge),
		Debounce:     cfg.Debounce,
		FetchTimeout: cfg.FetchTimeout,
		Observer:     e.observe,
		Logger:       logger.Named("coordinator"),
		Metrics:      m,
		Tracer:       tracer,
	})

	logger.Info("engine started", map[string]any{
		"encoding": string(enc),
		"journal":  backend,
	})
	return e, nil
}

func (e *Engine) openJournal(ctx context.Context, cfg Config) error {
	j, err := journal.Open(ctx, *cfg.Journal, e.metrics)
	if err != nil {
		return fmt.Errorf("engine: open journal: %w", err)
	}
	count := cfg.JournalFlushCount
	if count <= 0 {
		count = DefaultJournalFlushCount
	}
	interval := cfg.JournalFlushInterval
	if interval <= 0 {
		interval = DefaultJournalFlushInterval
	}
	buf, err := journal.NewBuffer(j, journal.BufferConfig{
		FlushCount:    count,
		FlushInterval: interval,
		Logger:        e.logger.Named("journal"),
	})
	if err != nil {
		return fmt.Errorf("engine: journal buffer: %w", err)
	}
	e.journal = j
	e.buffer = buf
	return nil
}

// InstanceID identifies this engine in logs, metrics and journal records.
func (e *Engine) InstanceID() string { return e.id }

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() metrics.Snapshot { return e.metrics.Snapshot() }

// Journal returns the delivery journal, or nil when disabled.
func (e *Engine) Journal() *journal.Journal { return e.journal }

// Cache returns the snapshot cache.
func (e *Engine) Cache() *snapshot.Cache { return e.coordinator.Cache() }

// enter registers a call that may start a fetch. It reports false once
// Close has begun; otherwise the caller must call e.active.Done.
func (e *Engine) enter() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.active.Add(1)
	return true
}

// FetchCampaigns runs one fetch outside of screen transitions. After Close
// it returns a canceled result carrying ErrClosed.
func (e *Engine) FetchCampaigns(ctx context.Context, req correlator.Request) correlator.Result {
	if !e.enter() {
		return correlator.Result{
			RequestID: req.RequestID,
			Screen:    req.Screen,
			Campaigns: []types.Campaign{},
			Outcome:   correlator.OutcomeCanceled,
			Err:       ErrClosed,
		}
	}
	defer e.active.Done()
	if req.UserID == "" {
		req.UserID = e.userID
	}
	return e.correlator.FetchCampaigns(ctx, req)
}

// Disconnect tears down the live connection.
func (e *Engine) Disconnect() {
	e.correlator.Disconnect()
}

// Navigate starts a screen transition and returns immediately. After Close
// no transition is started and the current one is returned.
func (e *Engine) Navigate(ctx context.Context, v coordinator.Visit) coordinator.Transition {
	if !e.enter() {
		return e.coordinator.Current().Transition
	}
	defer e.active.Done()
	if v.UserID == "" {
		v.UserID = e.userID
	}
	return e.coordinator.Navigate(ctx, v)
}

// Visit runs a screen transition to completion. After Close the visible
// state is retained and the outcome carries ErrClosed.
func (e *Engine) Visit(ctx context.Context, v coordinator.Visit) coordinator.VisitOutcome {
	if !e.enter() {
		return coordinator.VisitOutcome{
			Transition: e.coordinator.Current().Transition,
			Screen:     v.Screen,
			Phase:      coordinator.PhaseRetained,
			Fetch:      correlator.OutcomeCanceled,
			Err:        ErrClosed,
		}
	}
	defer e.active.Done()
	if v.UserID == "" {
		v.UserID = e.userID
	}
	return e.coordinator.Visit(ctx, v)
}

// Wait blocks until every started navigation has finished.
func (e *Engine) Wait() { e.coordinator.Wait() }

// Current returns the visible state.
func (e *Engine) Current() coordinator.State { return e.coordinator.Current() }

// Subscribe streams the visible state of screen.
func (e *Engine) Subscribe(screen string) (<-chan coordinator.State, func()) {
	return e.coordinator.Subscribe(screen)
}

// Suppress hides a campaign until the next navigation.
func (e *Engine) Suppress(campaignID string) { e.coordinator.Suppress(campaignID) }

func (e *Engine) observe(out coordinator.VisitOutcome) {
	if e.buffer != nil {
		rec := journal.VisitRecord{
			InstanceID:   e.id,
			UserID:       e.userID,
			Screen:       out.Screen,
			Transition:   uint64(out.Transition),
			RequestID:    out.RequestID,
			Phase:        string(out.Phase),
			FetchOutcome: string(out.Fetch),
			Source:       string(out.Source),
			Campaigns:    out.Campaigns,
			DurationMs:   out.Duration.Milliseconds(),
			Timestamp:    time.Now(),
		}
		if out.Err != nil {
			rec.Error = out.Err.Error()
		}
		// Flush failures keep the records buffered and are logged there.
		_ = e.buffer.Append(context.Background(), rec.ToMap())
	}
	if e.onVisit != nil {
		e.onVisit(out)
	}
}

// Close waits for navigations and reports in flight, disconnects, writes a
// final metrics record and flushes the journal. Safe to call more than once.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.active.Wait()
		e.coordinator.Wait()
		e.correlator.Disconnect()
		e.reports.Wait()

		var errs []error
		if e.buffer != nil {
			rec := journal.MetricsRecord(e.id, e.metrics.Snapshot().ToMap(), time.Now())
			if err := e.buffer.Append(ctx, rec); err != nil {
				errs = append(errs, err)
			}
			if err := e.buffer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close journal: %w", err))
			}
		}
		if e.adapter != nil {
			if err := e.adapter.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close adapter: %w", err))
			}
		}
		e.closeErr = errors.Join(errs...)

		fields := map[string]any{"navigations": e.metrics.Snapshot().Navigations}
		if e.closeErr != nil {
			fields["error"] = e.closeErr.Error()
			e.logger.Error("engine closed with errors", fields)
		} else {
			e.logger.Info("engine closed", fields)
		}
		_ = e.logger.Sync()
	})
	return e.closeErr
}
