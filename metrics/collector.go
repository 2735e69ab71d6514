// Package metrics provides per-engine delivery metrics.
//
// The Collector accumulates counters for the lifetime of one engine. It is a
// leaf package with no internal dependencies: fetch and visit outcomes are
// recorded by their string names so callers keep their own enums.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Transport
	ConnectsSucceeded  int64
	ConnectsFailed     int64
	ConnectsSuperseded int64
	MessagesDelivered  int64
	StaleFrames        int64
	DuplicateMessages  int64
	FrameErrors        int64

	// Correlator
	FetchesStarted        int64
	FetchOutcomes         map[string]int64
	CompletionsSuppressed int64

	// Coordinator
	Navigations   int64
	VisitOutcomes map[string]int64

	// Journal
	JournalWriteSuccess int64
	JournalWriteFailure int64

	// Interaction reporting
	EventsReported     int64
	EventReportFailure int64

	// Dimensions (informational, set at construction)
	InstanceID     string
	Encoding       string
	JournalBackend string
}

// Collector accumulates metrics for one engine.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connectsSucceeded  int64
	connectsFailed     int64
	connectsSuperseded int64
	messagesDelivered  int64
	staleFrames        int64
	duplicateMessages  int64
	frameErrors        int64

	fetchesStarted        int64
	fetchOutcomes         map[string]int64
	completionsSuppressed int64

	navigations   int64
	visitOutcomes map[string]int64

	journalWriteSuccess int64
	journalWriteFailure int64

	eventsReported     int64
	eventReportFailure int64

	instanceID     string
	encoding       string
	journalBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(instanceID, encoding, journalBackend string) *Collector {
	return &Collector{
		fetchOutcomes:  make(map[string]int64),
		visitOutcomes:  make(map[string]int64),
		instanceID:     instanceID,
		encoding:       encoding,
		journalBackend: journalBackend,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Transport ---

// IncConnectSucceeded records an established live connection.
func (c *Collector) IncConnectSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.connectsSucceeded)
}

// IncConnectFailed records a dial or endpoint failure.
func (c *Collector) IncConnectFailed() {
	if c == nil {
		return
	}
	c.inc(&c.connectsFailed)
}

// IncConnectSuperseded records a connection abandoned because a newer one
// started while it was being set up.
func (c *Collector) IncConnectSuperseded() {
	if c == nil {
		return
	}
	c.inc(&c.connectsSuperseded)
}

// IncMessageDelivered records a complete logical message handed to a handler.
func (c *Collector) IncMessageDelivered() {
	if c == nil {
		return
	}
	c.inc(&c.messagesDelivered)
}

// IncStaleFrame records a fragment discarded because its connection
// identity was no longer live.
func (c *Collector) IncStaleFrame() {
	if c == nil {
		return
	}
	c.inc(&c.staleFrames)
}

// IncDuplicateMessage records a message dropped by message-id suppression.
func (c *Collector) IncDuplicateMessage() {
	if c == nil {
		return
	}
	c.inc(&c.duplicateMessages)
}

// IncFrameError records a reassembly failure (oversized buffer).
func (c *Collector) IncFrameError() {
	if c == nil {
		return
	}
	c.inc(&c.frameErrors)
}

// --- Correlator ---

// IncFetchStarted records a fetch entering the pending set.
func (c *Collector) IncFetchStarted() {
	if c == nil {
		return
	}
	c.inc(&c.fetchesStarted)
}

// IncFetchOutcome records how a fetch settled.
func (c *Collector) IncFetchOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fetchOutcomes[outcome]++
	c.mu.Unlock()
}

// IncCompletionSuppressed records a second attempt to complete a fetch.
func (c *Collector) IncCompletionSuppressed() {
	if c == nil {
		return
	}
	c.inc(&c.completionsSuppressed)
}

// --- Coordinator ---

// IncNavigation records a navigation event.
func (c *Collector) IncNavigation() {
	if c == nil {
		return
	}
	c.inc(&c.navigations)
}

// IncVisitOutcome records how a screen visit ended.
func (c *Collector) IncVisitOutcome(outcome string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.visitOutcomes[outcome]++
	c.mu.Unlock()
}

// --- Journal ---
// Journal counters are per-call, not per-record.

// IncJournalWriteSuccess records a successful journal write.
func (c *Collector) IncJournalWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteSuccess)
}

// IncJournalWriteFailure records a failed journal write.
func (c *Collector) IncJournalWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.journalWriteFailure)
}

// --- Interaction reporting ---

// IncEventReported records an interaction event published downstream.
func (c *Collector) IncEventReported() {
	if c == nil {
		return
	}
	c.inc(&c.eventsReported)
}

// IncEventReportFailure records an interaction event that could not be published.
func (c *Collector) IncEventReportFailure() {
	if c == nil {
		return
	}
	c.inc(&c.eventReportFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectsSucceeded:  c.connectsSucceeded,
		ConnectsFailed:     c.connectsFailed,
		ConnectsSuperseded: c.connectsSuperseded,
		MessagesDelivered:  c.messagesDelivered,
		StaleFrames:        c.staleFrames,
		DuplicateMessages:  c.duplicateMessages,
		FrameErrors:        c.frameErrors,

		FetchesStarted:        c.fetchesStarted,
		FetchOutcomes:         cloneCounts(c.fetchOutcomes),
		CompletionsSuppressed: c.completionsSuppressed,

		Navigations:   c.navigations,
		VisitOutcomes: cloneCounts(c.visitOutcomes),

		JournalWriteSuccess: c.journalWriteSuccess,
		JournalWriteFailure: c.journalWriteFailure,

		EventsReported:     c.eventsReported,
		EventReportFailure: c.eventReportFailure,

		InstanceID:     c.instanceID,
		Encoding:       c.encoding,
		JournalBackend: c.journalBackend,
	}
}

// ToMap flattens a snapshot into a record suitable for the delivery journal.
func (s Snapshot) ToMap() map[string]any {
	return map[string]any{
		"connects_succeeded":     s.ConnectsSucceeded,
		"connects_failed":        s.ConnectsFailed,
		"connects_superseded":    s.ConnectsSuperseded,
		"messages_delivered":     s.MessagesDelivered,
		"stale_frames":           s.StaleFrames,
		"duplicate_messages":     s.DuplicateMessages,
		"frame_errors":           s.FrameErrors,
		"fetches_started":        s.FetchesStarted,
		"fetch_outcomes":         cloneCounts(s.FetchOutcomes),
		"completions_suppressed": s.CompletionsSuppressed,
		"navigations":            s.Navigations,
		"visit_outcomes":         cloneCounts(s.VisitOutcomes),
		"journal_write_success":  s.JournalWriteSuccess,
		"journal_write_failure":  s.JournalWriteFailure,
		"events_reported":        s.EventsReported,
		"event_report_failure":   s.EventReportFailure,
		"instance_id":            s.InstanceID,
		"encoding":               s.Encoding,
		"journal_backend":        s.JournalBackend,
	}
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
