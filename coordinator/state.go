package coordinator

import (
	"time"

	"github.com/justapithecus/spotlight/correlator"
	"github.com/justapithecus/spotlight/types"
)

// Transition identifies one navigation. Identities increase monotonically;
// only the latest one may change visible state.
type Transition uint64

// Phase is the lifecycle position of a navigation.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseTransitioning   Phase = "transitioning"
	PhaseAwaiting        Phase = "awaiting"
	PhaseApplied         Phase = "applied"
	PhaseDiscarded       Phase = "discarded"
	PhaseFallbackApplied Phase = "fallback_applied"
	PhaseRetained        Phase = "retained"
	// PhaseCoalesced marks a navigation folded into another one for the
	// same screen by the debounce window.
	PhaseCoalesced Phase = "coalesced"
)

// Source tells where visible campaigns came from.
type Source string

const (
	SourceNone     Source = ""
	SourceLive     Source = "live"
	SourceSnapshot Source = "snapshot"
)

// Visit describes a navigation to a screen.
type Visit struct {
	Screen     string
	UserID     string
	Attributes map[string]any
}

// State is the observable view state of the current screen.
type State struct {
	Screen     string
	Transition Transition
	Phase      Phase
	// Campaigns visible on Screen, with per-visit suppressions removed.
	Campaigns []types.Campaign
	Source    Source
	UpdatedAt time.Time
}

// VisitOutcome reports how one navigation ended.
type VisitOutcome struct {
	Transition Transition
	Screen     string
	// RequestID of the fetch that served this visit, if any.
	RequestID string
	Phase     Phase
	// Fetch is the correlator outcome of that fetch, if one completed.
	Fetch     correlator.Outcome
	Campaigns int
	Source    Source
	Err       error
	Duration  time.Duration
}
