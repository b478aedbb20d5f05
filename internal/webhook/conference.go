// Package webhook turns provider callbacks into normalized bridge events.
//
// Handlers acknowledge fast and never apply state inline: parsed events go
// through a bounded dispatcher and workers fold them into the session
// manager. Per-leg ordering is carried by the vendors' sequence numbers;
// timestamps ride along for bookkeeping only.
package webhook

import (
	"net/http"
	"strconv"
	"time"

	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/session"
)

// ConferenceCallbackForm captures the subset of the conference vendor's
// form-encoded callback fields we care about. Two callback families share
// the endpoint: call status (phone leg) and room status (browser leg,
// room lifecycle, recordings).
type ConferenceCallbackForm struct {
	SessionID string

	CallSID    string
	CallStatus string

	RoomSID             string
	RoomName            string
	StatusCallbackEvent string
	ParticipantSID      string
	ParticipantKind     string

	SequenceNumber string
	Timestamp      string
	Reason         string

	RecordingSID string
	RecordingURL string
}

func ParseConferenceCallback(r *http.Request) (ConferenceCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return ConferenceCallbackForm{}, err
	}
	f := ConferenceCallbackForm{
		// session_id is the query tag we put on every StatusCallback URL.
		SessionID:           r.URL.Query().Get("session_id"),
		CallSID:             r.PostFormValue("CallSid"),
		CallStatus:          r.PostFormValue("CallStatus"),
		RoomSID:             r.PostFormValue("RoomSid"),
		RoomName:            r.PostFormValue("RoomName"),
		StatusCallbackEvent: r.PostFormValue("StatusCallbackEvent"),
		ParticipantSID:      r.PostFormValue("ParticipantSid"),
		ParticipantKind:     r.PostFormValue("ParticipantKind"),
		SequenceNumber:      r.PostFormValue("SequenceNumber"),
		Timestamp:           r.PostFormValue("Timestamp"),
		Reason:              r.PostFormValue("Reason"),
		RecordingSID:        r.PostFormValue("RecordingSid"),
		RecordingURL:        r.PostFormValue("RecordingUrl"),
	}
	if f.SessionID == "" {
		// Room callbacks echo our UniqueName, which is the session id.
		f.SessionID = f.RoomName
	}
	return f, nil
}

// Event maps the callback onto a normalized event; false means the
// callback is valid but carries nothing the state machine acts on
// (initiated, room-created, phone participant echoes).
//
// Phone-leg truth comes exclusively from call status callbacks; the room's
// phone participant echoes are dropped so one leg never has two competing
// sequence spaces.
func (f ConferenceCallbackForm) Event() (bridge.Event, bool) {
	ev := bridge.Event{
		SessionID:  f.SessionID,
		Provider:   "conference",
		Seq:        parseSeq(f.SequenceNumber),
		OccurredAt: parseCallbackTime(f.Timestamp),
	}

	if f.RecordingURL != "" {
		ev.Type = bridge.EventRecordingReady
		ev.RecordingURL = f.RecordingURL
		return ev, true
	}

	if f.CallSID != "" && f.CallStatus != "" {
		ev.LegRole = session.LegPhone
		switch f.CallStatus {
		case "ringing":
			ev.Type = bridge.EventLegRinging
		case "in-progress", "answered":
			ev.Type = bridge.EventLegAnswered
		case "completed":
			ev.Type = bridge.EventLegDisconnected
			ev.Reason = session.ReasonCompleted
		case "busy":
			ev.Type = bridge.EventLegDisconnected
			ev.Reason = session.ReasonBusy
		case "no-answer":
			ev.Type = bridge.EventLegDisconnected
			ev.Reason = session.ReasonNoAnswer
		case "canceled":
			ev.Type = bridge.EventLegDisconnected
			ev.Reason = session.ReasonCanceled
		case "failed":
			ev.Type = bridge.EventLegDisconnected
			ev.Reason = "error"
		default:
			// initiated, queued: nothing to fold in.
			return ev, false
		}
		return ev, true
	}

	switch f.StatusCallbackEvent {
	case "participant-connected":
		if f.ParticipantKind != "client" {
			return ev, false
		}
		ev.Type = bridge.EventLegAnswered
		ev.LegRole = session.LegBrowser
		return ev, true
	case "participant-disconnected":
		if f.ParticipantKind != "client" {
			return ev, false
		}
		ev.Type = bridge.EventLegDisconnected
		ev.LegRole = session.LegBrowser
		ev.Reason = f.Reason
		return ev, true
	case "room-ended":
		ev.Type = bridge.EventBridgeEnded
		ev.Reason = f.Reason
		return ev, true
	}
	return ev, false
}

func parseSeq(s string) uint64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseCallbackTime accepts the vendor's RFC 1123 timestamps and RFC 3339
// as a fallback; unparseable values become zero and the manager stamps its
// own clock.
func parseCallbackTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
