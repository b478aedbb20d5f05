// Package session holds the bridge session snapshot model and its stores.
package session

import "time"

// State is the lifecycle state of a bridge session.
//
// Rules:
// - ended and failed are terminal; once EndedAt is set, legs and state
//   never change again (the recording URL is the sole later write).
// - answered_at is stamped only when both legs are up (active).
type State string

const (
	StateInit              State = "init"
	StateDialing           State = "dialing"
	StateRinging           State = "ringing"
	StateConnectingBrowser State = "connecting_browser"
	StateActive            State = "active"
	StateEnded             State = "ended"
	StateFailed            State = "failed"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// LegRole identifies which side of the bridge a leg carries.
type LegRole string

const (
	LegPhone   LegRole = "phone"
	LegBrowser LegRole = "browser"
)

// Topology is how the provider joins the two legs.
type Topology string

const (
	TopologyConference Topology = "conference_bridged"
	TopologyDirect     Topology = "direct_bridged"
)

// End reasons recorded on terminal sessions.
const (
	ReasonCompleted          = "completed"
	ReasonBusy               = "busy"
	ReasonNoAnswer           = "no_answer"
	ReasonRejected           = "rejected"
	ReasonCanceled           = "canceled"
	ReasonProviderError      = "provider_error"
	ReasonNoAnswerTimeout    = "no_answer_timeout"
	ReasonBrowserJoinTimeout = "browser_join_timeout"
)

// Leg is one side of the bridge as the provider reports it.
type Leg struct {
	Role        LegRole    `json:"role"`
	ProviderRef string     `json:"provider_ref,omitempty"`
	JoinedAt    *time.Time `json:"joined_at,omitempty"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	Muted       bool       `json:"muted"`
	OnHold      bool       `json:"on_hold"`

	// LastSeq is the highest provider sequence number applied to this leg.
	// Webhook events at or below it are duplicates and must not mutate.
	LastSeq uint64 `json:"last_seq"`
}

// Session is the snapshot of one browser-to-phone bridge.
//
// NOTE: provider-specific identifiers live in ProviderSessionRef and the
// legs' ProviderRef; the core model stays provider-agnostic.
type Session struct {
	ID       string   `json:"session_id"`
	Provider string   `json:"provider"`
	Topology Topology `json:"topology"`
	State    State    `json:"state"`

	To   string `json:"to"`
	From string `json:"from"`

	ProviderSessionRef string `json:"provider_session_ref,omitempty"`

	PhoneLeg   *Leg `json:"phone_leg,omitempty"`
	BrowserLeg *Leg `json:"browser_leg,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	EndReason    string `json:"end_reason,omitempty"`
	RecordingURL string `json:"recording_url,omitempty"`

	// LastSessionSeq orders session-scoped events (bridge established,
	// bridge ended, recording ready) the way Leg.LastSeq orders leg events.
	LastSessionSeq uint64 `json:"last_session_seq"`

	// Finalized is the claim flag: set exactly once by whichever actor wins
	// the race to finalize the terminal session.
	Finalized bool `json:"finalized"`

	// Version guards every write; stores reject updates whose expected
	// version no longer matches.
	Version uint64 `json:"version"`
}

// Leg returns the leg for role, or nil if it was never attached.
func (s *Session) Leg(role LegRole) *Leg {
	switch role {
	case LegPhone:
		return s.PhoneLeg
	case LegBrowser:
		return s.BrowserLeg
	default:
		return nil
	}
}

// DurationSeconds is talk time: ended minus answered, zero when the call
// was never fully bridged.
func (s *Session) DurationSeconds() int {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(*s.AnsweredAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// Clone deep-copies the snapshot so callers can mutate freely before a
// compare-and-swap write.
func (s *Session) Clone() *Session {
	out := *s
	if s.PhoneLeg != nil {
		leg := *s.PhoneLeg
		out.PhoneLeg = &leg
	}
	if s.BrowserLeg != nil {
		leg := *s.BrowserLeg
		out.BrowserLeg = &leg
	}
	return &out
}
