package audit

import "time"

// Event is an immutable, append-only audit record of a bridge action.
//
// Invariants:
// - Events are never updated or deleted.
// - session_id is required; every audited action targets a session.
// - Actor and IP capture are best-effort; never block call flows on audit.
type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	SessionID string `json:"session_id" db:"session_id"`
	Provider  string `json:"provider,omitempty" db:"provider"`

	// Actor is the authenticated service name that caused the event, or an
	// internal component name ("finalizer", "watchdog").
	Actor string `json:"actor,omitempty" db:"actor"`

	// IPAddress is the resolved client IP for API-triggered events.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeInitiate    EventType = "session_initiate"
	EventTypeBrowserJoin EventType = "browser_join"
	EventTypeControl     EventType = "leg_control"
	EventTypeEnd         EventType = "session_end"
	EventTypeFinalize    EventType = "session_finalize"
)
