package provider

import (
	"context"
	"fmt"

	"coldcall-bridge/internal/session"
)

// SIPAdapter is the placeholder for a future SIP trunk / FreeSWITCH
// integration. It registers so operators see the name exists, but it
// advertises no capabilities: Supports is false for every operation and
// each call reports ErrCapabilityNotAvailable. Callers that check
// Supports never reach those errors.
//
// Planned integration notes:
// - Outbound call control via ESL (originate, bridge, hangup).
// - Leg events will arrive from the event socket, not HTTP webhooks, and
//   need their own normalizer.
type SIPAdapter struct{}

func NewSIPAdapter() *SIPAdapter { return &SIPAdapter{} }

func (a *SIPAdapter) Name() string               { return "sip" }
func (a *SIPAdapter) Topology() session.Topology { return session.TopologyDirect }

func (a *SIPAdapter) Supports(Operation) bool { return false }

func (a *SIPAdapter) HealthCheck(ctx context.Context) error { return nil }

func (a *SIPAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	return CreateSessionResult{}, a.notAvailable(OpCreateSession)
}

func (a *SIPAdapter) AttachPhoneLeg(ctx context.Context, req AttachPhoneLegRequest) (AttachPhoneLegResult, error) {
	return AttachPhoneLegResult{}, a.notAvailable(OpAttachPhoneLeg)
}

func (a *SIPAdapter) AttachBrowserLeg(ctx context.Context, req AttachBrowserLegRequest) (AttachBrowserLegResult, error) {
	return AttachBrowserLegResult{}, a.notAvailable(OpAttachBrowserLeg)
}

func (a *SIPAdapter) ControlLeg(ctx context.Context, req ControlLegRequest) (ControlLegResult, error) {
	return ControlLegResult{}, a.notAvailable(OpControlLeg)
}

func (a *SIPAdapter) EndSession(ctx context.Context, req EndSessionRequest) (EndSessionResult, error) {
	return EndSessionResult{}, a.notAvailable(OpEndSession)
}

func (a *SIPAdapter) FetchStatus(ctx context.Context, req FetchStatusRequest) (StatusResult, error) {
	return StatusResult{}, a.notAvailable(OpFetchStatus)
}

func (a *SIPAdapter) notAvailable(op Operation) error {
	return fmt.Errorf("%w: sip %s", ErrCapabilityNotAvailable, op)
}
