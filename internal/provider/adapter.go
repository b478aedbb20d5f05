// Package provider adapts heterogeneous telephony vendors to one
// capability set the bridge can drive.
package provider

import (
	"context"
	"errors"
	"time"

	"coldcall-bridge/internal/session"
)

// Operation names one adapter capability. Callers check Supports before
// invoking an operation; an adapter never silently fakes success.
type Operation string

const (
	OpCreateSession    Operation = "create_session"
	OpAttachPhoneLeg   Operation = "attach_phone_leg"
	OpAttachBrowserLeg Operation = "attach_webrtc_leg"
	OpControlLeg       Operation = "control_leg"
	OpEndSession       Operation = "end_session"
	OpFetchStatus      Operation = "fetch_status"
)

var (
	// ErrRejected covers vendor-side 4xx answers: the request reached the
	// provider and it said no.
	ErrRejected = errors.New("provider: request rejected")

	// ErrUnavailable covers transport failures and vendor 5xx answers.
	ErrUnavailable = errors.New("provider: unavailable")

	// ErrCapabilityNotAvailable is returned by adapters that exist in the
	// registry but cannot serve the operation at all.
	ErrCapabilityNotAvailable = errors.New("provider: capability not available")

	// ErrUnsupportedControl means the topology cannot express the requested
	// leg control (e.g. hold on a direct bridge).
	ErrUnsupportedControl = errors.New("provider: control not supported by topology")

	// ErrUnknownProvider is returned by the registry for names never
	// registered.
	ErrUnknownProvider = errors.New("provider: unknown provider")
)

// Adapter is the provider-agnostic boundary used by the session manager.
//
// Rules:
// - No vendor HTTP calls outside this package.
// - Request/result types stay provider-agnostic; vendor identifiers travel
//   in opaque ref strings.
// - Every method honors ctx cancellation and carries an HTTP timeout.
type Adapter interface {
	Name() string
	Topology() session.Topology
	Supports(op Operation) bool
	HealthCheck(ctx context.Context) error

	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error)
	AttachPhoneLeg(ctx context.Context, req AttachPhoneLegRequest) (AttachPhoneLegResult, error)
	AttachBrowserLeg(ctx context.Context, req AttachBrowserLegRequest) (AttachBrowserLegResult, error)
	ControlLeg(ctx context.Context, req ControlLegRequest) (ControlLegResult, error)
	EndSession(ctx context.Context, req EndSessionRequest) (EndSessionResult, error)
	FetchStatus(ctx context.Context, req FetchStatusRequest) (StatusResult, error)
}

type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
}

type CreateSessionResult struct {
	// ProviderSessionRef identifies the vendor-side container (conference
	// room, bridge) for all later operations.
	ProviderSessionRef string `json:"provider_session_ref"`
}

type AttachPhoneLegRequest struct {
	SessionID          string `json:"session_id"`
	ProviderSessionRef string `json:"provider_session_ref,omitempty"`

	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// RingTimeout bounds how long the vendor lets the callee ring.
	RingTimeout time.Duration `json:"-"`
}

type AttachPhoneLegResult struct {
	LegRef string `json:"leg_ref"`

	// SessionRef is set by adapters whose dial call is what allocates the
	// vendor-side session (direct topology); empty means keep the existing
	// ref.
	SessionRef string `json:"session_ref,omitempty"`
}

type AttachBrowserLegRequest struct {
	SessionID          string `json:"session_id"`
	ProviderSessionRef string `json:"provider_session_ref"`

	// ClientID identifies the operator's browser identity at the vendor.
	ClientID string `json:"client_id"`
}

type AttachBrowserLegResult struct {
	LegRef      string             `json:"leg_ref"`
	Credentials BrowserCredentials `json:"credentials"`
}

// BrowserCredentials is everything the browser needs to join its leg.
// The orchestrator passes it through untouched; media setup is the
// vendor SDK's job.
type BrowserCredentials struct {
	Token      string    `json:"token"`
	Room       string    `json:"room,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	ICEServers []string  `json:"ice_servers,omitempty"`
}

type ControlAction string

const (
	ControlMute   ControlAction = "mute"
	ControlUnmute ControlAction = "unmute"
	ControlHold   ControlAction = "hold"
	ControlResume ControlAction = "resume"
)

type ControlLegRequest struct {
	SessionID          string          `json:"session_id"`
	ProviderSessionRef string          `json:"provider_session_ref"`
	LegRef             string          `json:"leg_ref"`
	Role               session.LegRole `json:"role"`
	Action             ControlAction   `json:"action"`
}

type ControlLegResult struct {
	Acknowledged bool `json:"acknowledged"`
}

type EndSessionRequest struct {
	SessionID          string `json:"session_id"`
	ProviderSessionRef string `json:"provider_session_ref"`
}

type EndSessionResult struct {
	// AlreadyEnded is true when the vendor no longer knew the session;
	// ending twice is success, not an error.
	AlreadyEnded bool `json:"already_ended"`
}

type FetchStatusRequest struct {
	SessionID          string `json:"session_id"`
	ProviderSessionRef string `json:"provider_session_ref"`
}

// LegStatus is the vendor's view of one leg, normalized.
type LegStatus string

const (
	LegStatusQueued   LegStatus = "queued"
	LegStatusRinging  LegStatus = "ringing"
	LegStatusAnswered LegStatus = "answered"
	LegStatusEnded    LegStatus = "ended"
	LegStatusUnknown  LegStatus = "unknown"
)

type StatusResult struct {
	SessionActive bool      `json:"session_active"`
	PhoneLeg      LegStatus `json:"phone_leg"`
	BrowserLeg    LegStatus `json:"browser_leg"`
}
