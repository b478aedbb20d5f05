package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/session"
)

// DirectEventPayload is the direct-bridging vendor's JSON callback. The
// vendor echoes the session_id we supplied on dial, so no lookup by call
// id is needed.
type DirectEventPayload struct {
	EventName    string    `json:"event"`
	SessionID    string    `json:"session_id"`
	CallID       string    `json:"call_id,omitempty"`
	Seq          uint64    `json:"seq,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at,omitempty"`
	RecordingURL string    `json:"recording_url,omitempty"`
}

func ParseDirectEvent(r io.Reader) (DirectEventPayload, error) {
	var p DirectEventPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return DirectEventPayload{}, fmt.Errorf("decode direct event: %w", err)
	}
	return p, nil
}

// Event maps the payload onto a normalized event; false for event names
// we do not act on.
func (p DirectEventPayload) Event() (bridge.Event, bool) {
	ev := bridge.Event{
		SessionID:  p.SessionID,
		Provider:   "direct",
		Seq:        p.Seq,
		Reason:     p.Reason,
		OccurredAt: p.OccurredAt,
	}

	switch p.EventName {
	case "call_ringing":
		ev.Type = bridge.EventLegRinging
		ev.LegRole = session.LegPhone
	case "call_answered":
		ev.Type = bridge.EventLegAnswered
		ev.LegRole = session.LegPhone
	case "call_ended":
		ev.Type = bridge.EventLegDisconnected
		ev.LegRole = session.LegPhone
	case "browser_joined":
		ev.Type = bridge.EventLegAnswered
		ev.LegRole = session.LegBrowser
	case "browser_left":
		ev.Type = bridge.EventLegDisconnected
		ev.LegRole = session.LegBrowser
	case "bridged":
		ev.Type = bridge.EventBridgeEstablished
	case "session_ended":
		ev.Type = bridge.EventBridgeEnded
	case "recording_ready":
		ev.Type = bridge.EventRecordingReady
		ev.RecordingURL = p.RecordingURL
	default:
		return ev, false
	}
	return ev, true
}
