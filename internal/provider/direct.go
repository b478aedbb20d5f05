package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coldcall-bridge/internal/session"
)

// DirectConfig targets the direct-bridging vendor: a JSON REST API with
// bearer auth that patches the PSTN leg straight to the WebRTC leg.
type DirectConfig struct {
	BaseURL  string
	APIToken string

	// CallbackURL is the absolute URL of our direct webhook endpoint.
	CallbackURL string
}

// DirectAdapter drives a point-to-point bridge. There is no standalone
// session resource: the outbound dial is what allocates the vendor-side
// call, so create_session is not part of this adapter's capability set.
// The topology also narrows controls: hold does not exist, and only the
// browser leg can be muted.
type DirectAdapter struct {
	cfg DirectConfig
	hc  *http.Client
}

func NewDirectAdapter(cfg DirectConfig, hc *http.Client) *DirectAdapter {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &DirectAdapter{cfg: cfg, hc: hc}
}

func (a *DirectAdapter) Name() string               { return "direct" }
func (a *DirectAdapter) Topology() session.Topology { return session.TopologyDirect }

func (a *DirectAdapter) Supports(op Operation) bool {
	switch op {
	case OpAttachPhoneLeg, OpAttachBrowserLeg, OpControlLeg, OpEndSession, OpFetchStatus:
		return true
	default:
		return false
	}
}

func (a *DirectAdapter) HealthCheck(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := a.doJSON(ctx, http.MethodGet, "/v1/health", nil, &out); err != nil {
		return fmt.Errorf("direct health: %w", err)
	}
	return nil
}

// CreateSession is not available on this topology; the dial allocates the
// vendor call. Callers should have checked Supports first.
func (a *DirectAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	return CreateSessionResult{}, fmt.Errorf("%w: direct create_session", ErrCapabilityNotAvailable)
}

func (a *DirectAdapter) AttachPhoneLeg(ctx context.Context, req AttachPhoneLegRequest) (AttachPhoneLegResult, error) {
	payload := map[string]any{
		"session_id":     req.SessionID,
		"to":             req.To,
		"from":           req.From,
		"ring_timeout_s": ringSeconds(req.RingTimeout),
	}
	if a.cfg.CallbackURL != "" {
		payload["callback_url"] = a.cfg.CallbackURL
	}

	var out struct {
		CallID string `json:"call_id"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/v1/calls", payload, &out); err != nil {
		return AttachPhoneLegResult{}, fmt.Errorf("direct attach phone leg: %w", err)
	}
	if out.CallID == "" {
		return AttachPhoneLegResult{}, fmt.Errorf("%w: call response missing call_id", ErrRejected)
	}
	// The call id doubles as the session ref for every later operation.
	return AttachPhoneLegResult{LegRef: out.CallID, SessionRef: out.CallID}, nil
}

func (a *DirectAdapter) AttachBrowserLeg(ctx context.Context, req AttachBrowserLegRequest) (AttachBrowserLegResult, error) {
	payload := map[string]any{
		"call_id":   req.ProviderSessionRef,
		"client_id": req.ClientID,
	}

	var out struct {
		ParticipantID string    `json:"participant_id"`
		Token         string    `json:"token"`
		ExpiresAt     time.Time `json:"expires_at"`
		ICEServers    []string  `json:"ice_servers"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/v1/rtc/tokens", payload, &out); err != nil {
		return AttachBrowserLegResult{}, fmt.Errorf("direct attach browser leg: %w", err)
	}
	return AttachBrowserLegResult{
		LegRef: out.ParticipantID,
		Credentials: BrowserCredentials{
			Token:      out.Token,
			ExpiresAt:  out.ExpiresAt,
			ICEServers: out.ICEServers,
		},
	}, nil
}

func (a *DirectAdapter) ControlLeg(ctx context.Context, req ControlLegRequest) (ControlLegResult, error) {
	switch req.Action {
	case ControlHold, ControlResume:
		return ControlLegResult{}, fmt.Errorf("%w: hold on direct bridge", ErrUnsupportedControl)
	case ControlMute, ControlUnmute:
		if req.Role != session.LegBrowser {
			return ControlLegResult{}, fmt.Errorf("%w: mute of %s leg on direct bridge", ErrUnsupportedControl, req.Role)
		}
	default:
		return ControlLegResult{}, fmt.Errorf("%w: action %q", ErrUnsupportedControl, req.Action)
	}

	payload := map[string]any{
		"leg":   "browser",
		"muted": req.Action == ControlMute,
	}
	path := fmt.Sprintf("/v1/calls/%s/mute", req.ProviderSessionRef)
	if err := a.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
		return ControlLegResult{}, fmt.Errorf("direct control leg: %w", err)
	}
	return ControlLegResult{Acknowledged: true}, nil
}

func (a *DirectAdapter) EndSession(ctx context.Context, req EndSessionRequest) (EndSessionResult, error) {
	path := fmt.Sprintf("/v1/calls/%s", req.ProviderSessionRef)
	err := a.doJSON(ctx, http.MethodDelete, path, nil, nil)
	if err == nil {
		return EndSessionResult{}, nil
	}
	// A call the vendor already dropped counts as ended.
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return EndSessionResult{AlreadyEnded: true}, nil
	}
	return EndSessionResult{}, fmt.Errorf("direct end session: %w", err)
}

func (a *DirectAdapter) FetchStatus(ctx context.Context, req FetchStatusRequest) (StatusResult, error) {
	var out struct {
		Status           string `json:"status"`
		BrowserConnected bool   `json:"browser_connected"`
	}
	path := fmt.Sprintf("/v1/calls/%s", req.ProviderSessionRef)
	if err := a.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return StatusResult{SessionActive: false, PhoneLeg: LegStatusEnded, BrowserLeg: LegStatusEnded}, nil
		}
		return StatusResult{}, fmt.Errorf("direct fetch status: %w", err)
	}

	res := StatusResult{BrowserLeg: LegStatusEnded}
	if out.BrowserConnected {
		res.BrowserLeg = LegStatusAnswered
	}
	switch out.Status {
	case "dialing":
		res.PhoneLeg = LegStatusQueued
		res.SessionActive = true
	case "ringing":
		res.PhoneLeg = LegStatusRinging
		res.SessionActive = true
	case "answered", "bridged":
		res.PhoneLeg = LegStatusAnswered
		res.SessionActive = true
	case "ended":
		res.PhoneLeg = LegStatusEnded
	default:
		res.PhoneLeg = LegStatusUnknown
	}
	return res, nil
}

// statusError carries the vendor HTTP status so callers can special-case
// 404 idempotency without string matching.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func (a *DirectAdapter) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	u := strings.TrimRight(a.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIToken)

	resp, err := a.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, err: mapStatusError(resp.StatusCode, raw)}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
