// Package calllog archives one completion record per bridge session and
// fans it out to downstream consumers.
package calllog

import "time"

// CallRecord is the immutable completion record emitted exactly once when
// a session reaches a terminal state.
//
// NOTE: duration is talk time (ended minus answered); sessions that never
// had both legs up carry zero, whatever their wall-clock lifetime was.
type CallRecord struct {
	SessionID string `json:"session_id" db:"session_id"`
	Provider  string `json:"provider" db:"provider"`
	Topology  string `json:"topology" db:"topology"`

	To   string `json:"to" db:"to_number"`
	From string `json:"from" db:"from_number"`

	State     string `json:"state" db:"state"`
	EndReason string `json:"end_reason" db:"end_reason"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    time.Time  `json:"ended_at" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// CostMinor is the billed amount in minor units of Currency.
	CostMinor int64  `json:"cost_minor" db:"cost_minor"`
	Currency  string `json:"currency" db:"currency"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`
}
