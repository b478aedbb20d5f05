// Package bridge owns the session lifecycle: the state machine, the
// webhook-driven transitions, and the watchdog that reaps stuck calls.
package bridge

import (
	"time"

	"coldcall-bridge/internal/session"
)

// EventType classifies a normalized provider event.
type EventType string

const (
	EventLegRinging        EventType = "leg_ringing"
	EventLegAnswered       EventType = "leg_answered"
	EventLegDisconnected   EventType = "leg_disconnected"
	EventBridgeEstablished EventType = "bridge_established"
	EventBridgeEnded       EventType = "bridge_ended"
	EventRecordingReady    EventType = "recording_ready"
)

// Event is one provider webhook, normalized. Leg-scoped events carry a
// LegRole; bridge_* and recording_ready are session-scoped and leave it
// empty.
//
// Ordering trusts Seq, never OccurredAt: provider wall clocks drift, their
// sequence counters do not. Seq 0 means the vendor sent no counter and the
// event is applied under state-machine idempotency alone.
type Event struct {
	SessionID string          `json:"session_id"`
	Provider  string          `json:"provider"`
	Type      EventType       `json:"type"`
	LegRole   session.LegRole `json:"leg_role,omitempty"`

	Seq        uint64    `json:"seq"`
	OccurredAt time.Time `json:"occurred_at"`

	// Reason qualifies disconnect-style events: busy, no_answer, rejected,
	// completed, error.
	Reason string `json:"reason,omitempty"`

	// RecordingURL accompanies recording_ready.
	RecordingURL string `json:"recording_url,omitempty"`
}

// ApplyOutcome reports what an event did to the session.
type ApplyOutcome string

const (
	OutcomeApplied        ApplyOutcome = "applied"
	OutcomeDuplicate      ApplyOutcome = "duplicate"
	OutcomeTerminalNoop   ApplyOutcome = "terminal_noop"
	OutcomeUnknownSession ApplyOutcome = "unknown_session"
	OutcomeIgnored        ApplyOutcome = "ignored"
)
