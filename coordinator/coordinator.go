// Package coordinator sequences screen navigations.
//
// Every navigation mints a transition identity. A fetch result is applied
// to visible state only if, when it arrives, its transition is still the
// current one, its screen is the current screen and its request is the
// latest one issued for that screen. Anything else is discarded, although
// delivered data still refreshes the snapshot cache. Failed fetches fall back
// to a fresh snapshot or leave visible state as it was; visible campaigns are
// never blanked by a failure.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/justapithecus/spotlight/correlator"
	"github.com/justapithecus/spotlight/log"
	"github.com/justapithecus/spotlight/metrics"
	"github.com/justapithecus/spotlight/snapshot"
	"github.com/justapithecus/spotlight/types"
)

// DefaultDebounce is the same-screen coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// maxFetchAttempts bounds how often a current navigation reissues a fetch
// that a stale navigation superseded.
const maxFetchAttempts = 3

// Fetcher runs one campaign fetch. Implemented by *correlator.Correlator.
type Fetcher interface {
	FetchCampaigns(ctx context.Context, req correlator.Request) correlator.Result
}

var _ Fetcher = (*correlator.Correlator)(nil)

// Config wires a Coordinator.
type Config struct {
	Fetcher Fetcher
	// Cache defaults to snapshot.New(0, 0).
	Cache *snapshot.Cache
	// Debounce of 0 selects DefaultDebounce; negative disables coalescing.
	Debounce time.Duration
	// FetchTimeout is passed through to the fetcher when > 0.
	FetchTimeout time.Duration
	// Observer, when set, is called once per finished navigation.
	Observer func(VisitOutcome)
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Tracer   trace.Tracer
	Now      func() time.Time
}

// inflight is the fetch currently serving a screen. Its transition is
// rebound when a coalesced navigation adopts it.
type inflight struct {
	requestID  string
	transition Transition
	done       chan struct{}
	outcome    VisitOutcome
	result     correlator.Result
}

type navigation struct {
	visit      Visit
	key        string
	transition Transition
	started    time.Time
	coalesce   bool
	// windowEnd is when the previous navigation's debounce window closes.
	windowEnd time.Time
	anchor    time.Time
	adopted   *inflight
}

// Coordinator owns transition identity, visible state and the snapshot cache.
type Coordinator struct {
	fetcher      Fetcher
	cache        *snapshot.Cache
	debounce     time.Duration
	fetchTimeout time.Duration
	observer     func(VisitOutcome)
	logger       *log.Logger
	metrics      *metrics.Collector
	tracer       trace.Tracer
	now          func() time.Time

	wg sync.WaitGroup

	mu            sync.Mutex
	current       Transition
	screen        string
	display       string
	phase         Phase
	visible       map[string][]types.Campaign
	source        map[string]Source
	setAt         map[string]time.Time
	lastNav       map[string]time.Time
	anchor        map[string]time.Time
	latestRequest map[string]string
	inflight      map[string]*inflight
	suppressed    map[string]struct{}
	subscribers   map[string]map[int]chan State
	nextSub       int
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		fetcher:       cfg.Fetcher,
		cache:         cfg.Cache,
		debounce:      cfg.Debounce,
		fetchTimeout:  cfg.FetchTimeout,
		observer:      cfg.Observer,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.Tracer,
		now:           cfg.Now,
		phase:         PhaseIdle,
		visible:       make(map[string][]types.Campaign),
		source:        make(map[string]Source),
		setAt:         make(map[string]time.Time),
		lastNav:       make(map[string]time.Time),
		anchor:        make(map[string]time.Time),
		latestRequest: make(map[string]string),
		inflight:      make(map[string]*inflight),
		suppressed:    make(map[string]struct{}),
		subscribers:   make(map[string]map[int]chan State),
	}
	if c.cache == nil {
		c.cache = snapshot.New(0, 0)
	}
	switch {
	case c.debounce == 0:
		c.debounce = DefaultDebounce
	case c.debounce < 0:
		c.debounce = 0
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/justapithecus/spotlight/coordinator")
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Cache returns the snapshot cache owned by the coordinator.
func (c *Coordinator) Cache() *snapshot.Cache {
	return c.cache
}

// Navigate starts a navigation and returns its transition without waiting
// for the fetch. The navigation runs until it finishes or ctx ends.
func (c *Coordinator) Navigate(ctx context.Context, v Visit) Transition {
	nav := c.begin(v)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, nav)
	}()
	return nav.transition
}

// Visit navigates and blocks until the navigation finishes.
func (c *Coordinator) Visit(ctx context.Context, v Visit) VisitOutcome {
	return c.run(ctx, c.begin(v))
}

// Wait blocks until every navigation started with Navigate has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Current returns the state of the current screen.
func (c *Coordinator) Current() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Subscribe returns a channel carrying the latest state of screen whenever
// it is the current screen and changes. Slow readers only miss intermediate
// states. cancel closes the channel.
func (c *Coordinator) Subscribe(screen string) (<-chan State, func()) {
	key := types.NormalizeScreen(screen)
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subscribers[key] == nil {
		c.subscribers[key] = make(map[int]chan State)
	}
	c.subscribers[key][id] = ch
	if c.screen == key && c.current > 0 {
		ch <- c.stateLocked()
	}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers[key], id)
			if len(c.subscribers[key]) == 0 {
				delete(c.subscribers, key)
			}
			close(ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

// Suppress hides a campaign until the next navigation.
func (c *Coordinator) Suppress(campaignID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.suppressed[campaignID]; ok {
		return
	}
	c.suppressed[campaignID] = struct{}{}
	c.publishLocked()
}

// begin mints the transition and decides whether the navigation coalesces.
func (c *Coordinator) begin(v Visit) *navigation {
	key := types.NormalizeScreen(v.Screen)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current++
	nav := &navigation{visit: v, key: key, transition: c.current, started: now}

	c.screen = key
	c.display = v.Screen
	c.phase = PhaseTransitioning
	clear(c.suppressed)

	prev, seen := c.lastNav[key]
	c.lastNav[key] = now
	if c.debounce > 0 && seen && now.Sub(prev) < c.debounce {
		nav.coalesce = true
		nav.windowEnd = prev.Add(c.debounce)
		nav.anchor = c.anchor[key]
		if inf := c.inflight[key]; inf != nil {
			inf.transition = nav.transition
			nav.adopted = inf
		}
	} else {
		c.anchor[key] = now
	}

	c.metrics.IncNavigation()
	c.publishLocked()
	return nav
}

func (c *Coordinator) run(ctx context.Context, nav *navigation) VisitOutcome {
	ctx, span := c.tracer.Start(ctx, "coordinator.visit", trace.WithAttributes(
		attribute.String("spotlight.screen", nav.visit.Screen),
		attribute.Int64("spotlight.transition", int64(nav.transition)),
		attribute.Bool("spotlight.coalesced", nav.coalesce),
	))
	defer span.End()

	out := c.navigate(ctx, nav)
	out.Duration = c.now().Sub(nav.started)

	span.SetAttributes(attribute.String("spotlight.phase", string(out.Phase)))
	c.metrics.IncVisitOutcome(string(out.Phase))
	c.logger.Debug("navigation finished", map[string]any{
		"screen":     nav.visit.Screen,
		"transition": uint64(out.Transition),
		"request_id": out.RequestID,
		"phase":      string(out.Phase),
		"fetch":      string(out.Fetch),
		"campaigns":  out.Campaigns,
	})
	if c.observer != nil {
		c.observer(out)
	}
	return out
}

func (c *Coordinator) navigate(ctx context.Context, nav *navigation) VisitOutcome {
	if !nav.coalesce {
		return c.fetch(ctx, nav)
	}

	adopted := nav.adopted
	if adopted == nil {
		if !c.sleepUntil(ctx, nav.windowEnd) {
			return c.outcomeFor(nav, PhaseRetained, correlator.OutcomeCanceled)
		}

		c.mu.Lock()
		switch {
		case c.current != nav.transition:
			c.mu.Unlock()
			return c.outcomeFor(nav, PhaseCoalesced, "")
		case c.inflight[nav.key] != nil:
			adopted = c.inflight[nav.key]
			adopted.transition = nav.transition
		case !c.setAt[nav.key].Before(nav.anchor) && !c.setAt[nav.key].IsZero():
			c.phase = c.settledPhaseLocked(nav.key)
			c.publishLocked()
			c.mu.Unlock()
			return c.outcomeFor(nav, PhaseCoalesced, "")
		}
		c.mu.Unlock()

		if adopted == nil {
			return c.fetch(ctx, nav)
		}
	}

	select {
	case <-adopted.done:
	case <-ctx.Done():
		return c.outcomeFor(nav, PhaseRetained, correlator.OutcomeCanceled)
	}

	// The adopted fetch lost the correlator to another screen's fetch while
	// this navigation is still current: nothing served it, fetch again.
	if adopted.result.Outcome == correlator.OutcomeSuperseded && c.isCurrent(nav.transition) {
		return c.fetch(ctx, nav)
	}
	out := adopted.outcome
	if out.Transition != nav.transition {
		out.Transition = nav.transition
		out.Phase = PhaseCoalesced
	}
	return out
}

// fetch issues a request for nav and resolves its result. A request that
// loses the correlator to a stale navigation's request while nav is still
// current is issued again, up to maxFetchAttempts times.
func (c *Coordinator) fetch(ctx context.Context, nav *navigation) VisitOutcome {
	for attempt := 1; ; attempt++ {
		out, retry := c.fetchOnce(ctx, nav, attempt >= maxFetchAttempts)
		if !retry || ctx.Err() != nil {
			return out
		}
		c.logger.Debug("current fetch superseded, retrying", map[string]any{
			"screen":     nav.visit.Screen,
			"transition": uint64(nav.transition),
			"attempt":    attempt,
		})
	}
}

func (c *Coordinator) fetchOnce(ctx context.Context, nav *navigation, last bool) (VisitOutcome, bool) {
	requestID := uuid.NewString()
	inf := &inflight{requestID: requestID, transition: nav.transition, done: make(chan struct{})}

	c.mu.Lock()
	if c.current != nav.transition {
		// A later navigation exists; issuing this request would only
		// supersede the one serving it.
		c.mu.Unlock()
		return c.outcomeFor(nav, PhaseDiscarded, ""), false
	}
	c.latestRequest[nav.key] = requestID
	c.inflight[nav.key] = inf
	c.phase = PhaseAwaiting
	c.publishLocked()
	c.mu.Unlock()

	res := c.fetcher.FetchCampaigns(ctx, correlator.Request{
		Screen:     nav.visit.Screen,
		UserID:     nav.visit.UserID,
		Attributes: nav.visit.Attributes,
		Timeout:    c.fetchTimeout,
		RequestID:  requestID,
	})

	c.mu.Lock()
	out, retry := c.resolveLocked(nav, inf, res, last)
	if c.inflight[nav.key] == inf {
		delete(c.inflight, nav.key)
	}
	c.mu.Unlock()

	inf.result = res
	inf.outcome = out
	close(inf.done)

	if out.Transition != nav.transition {
		// Adopted by a later navigation; that one reports the outcome.
		own := out
		own.Transition = nav.transition
		own.Phase = PhaseCoalesced
		return own, false
	}
	return out, retry
}

// resolveLocked applies, discards or falls back for one fetch result.
// The result is judged against the transition the fetch is bound to now,
// which a coalesced navigation may have moved forward. It reports whether
// the fetch should be issued again. Caller holds c.mu.
func (c *Coordinator) resolveLocked(nav *navigation, inf *inflight, res correlator.Result, last bool) (VisitOutcome, bool) {
	now := c.now()
	out := VisitOutcome{
		Transition: inf.transition,
		Screen:     nav.visit.Screen,
		RequestID:  inf.requestID,
		Fetch:      res.Outcome,
		Err:        res.Err,
	}

	if res.Outcome == correlator.OutcomeDelivered {
		c.cache.Put(nav.visit.Screen, res.Campaigns, now)
	}

	if inf.transition != c.current || nav.key != c.screen || c.latestRequest[nav.key] != inf.requestID {
		out.Phase = PhaseDiscarded
		c.logger.Debug("discarded stale result", map[string]any{
			"screen":     nav.visit.Screen,
			"request_id": inf.requestID,
			"transition": uint64(inf.transition),
			"current":    uint64(c.current),
		})
		return out, false
	}

	superseded := res.Outcome == correlator.OutcomeSuperseded
	switch {
	case superseded && inf.transition != nav.transition:
		// The adopting navigation fetches again once it sees this.
		out.Phase = PhaseDiscarded
		return out, false
	case superseded && !last:
		out.Phase = PhaseDiscarded
		return out, true
	case res.Outcome == correlator.OutcomeDelivered:
		c.visible[nav.key] = types.CloneCampaigns(res.Campaigns)
		c.source[nav.key] = SourceLive
		c.setAt[nav.key] = now
		out.Phase = PhaseApplied
	case res.Outcome.Failed() || superseded:
		if entry, ok := c.cache.Fresh(nav.visit.Screen, now); ok {
			c.visible[nav.key] = entry.Campaigns
			c.source[nav.key] = SourceSnapshot
			c.setAt[nav.key] = now
			out.Phase = PhaseFallbackApplied
		} else {
			out.Phase = PhaseRetained
		}
	default:
		out.Phase = PhaseRetained
	}

	out.Campaigns = len(c.visible[nav.key])
	out.Source = c.source[nav.key]
	c.phase = out.Phase
	c.publishLocked()
	return out, false
}

func (c *Coordinator) isCurrent(t Transition) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == t
}

func (c *Coordinator) outcomeFor(nav *navigation, phase Phase, fetch correlator.Outcome) VisitOutcome {
	return VisitOutcome{
		Transition: nav.transition,
		Screen:     nav.visit.Screen,
		Phase:      phase,
		Fetch:      fetch,
	}
}

// settledPhaseLocked reports the phase visible state of key was last set in.
func (c *Coordinator) settledPhaseLocked(key string) Phase {
	if c.source[key] == SourceSnapshot {
		return PhaseFallbackApplied
	}
	return PhaseApplied
}

func (c *Coordinator) sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := deadline.Sub(c.now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) stateLocked() State {
	if c.current == 0 {
		return State{Phase: PhaseIdle, Campaigns: []types.Campaign{}}
	}
	visible := c.visible[c.screen]
	campaigns := make([]types.Campaign, 0, len(visible))
	for _, camp := range visible {
		if _, hidden := c.suppressed[camp.ID]; !hidden {
			campaigns = append(campaigns, camp)
		}
	}
	return State{
		Screen:     c.display,
		Transition: c.current,
		Phase:      c.phase,
		Campaigns:  campaigns,
		Source:     c.source[c.screen],
		UpdatedAt:  c.setAt[c.screen],
	}
}

// publishLocked sends the current state to subscribers of the current
// screen, replacing any state they have not read yet.
func (c *Coordinator) publishLocked() {
	subs := c.subscribers[c.screen]
	if len(subs) == 0 {
		return
	}
	s := c.stateLocked()
	for _, ch := range subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
