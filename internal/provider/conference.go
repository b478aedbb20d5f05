package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coldcall-bridge/internal/session"
)

// ConferenceConfig targets the conference-bridging vendor. Its REST API is
// form-encoded under an account path, authenticated with basic auth, in the
// classic CPaaS shape.
type ConferenceConfig struct {
	BaseURL    string
	AccountSID string
	APIToken   string

	// CallbackURL is the absolute URL of our conference webhook endpoint,
	// advertised to the vendor on every resource we create.
	CallbackURL string
}

// ConferenceAdapter bridges both legs through a vendor-hosted conference
// room: the PSTN dial and the browser client both join the room, so every
// leg control (mute, hold) is available on either side.
type ConferenceAdapter struct {
	cfg ConferenceConfig
	hc  *http.Client
}

func NewConferenceAdapter(cfg ConferenceConfig, hc *http.Client) *ConferenceAdapter {
	if hc == nil {
		hc = defaultHTTPClient()
	}
	return &ConferenceAdapter{cfg: cfg, hc: hc}
}

func (a *ConferenceAdapter) Name() string               { return "conference" }
func (a *ConferenceAdapter) Topology() session.Topology { return session.TopologyConference }

func (a *ConferenceAdapter) Supports(op Operation) bool {
	switch op {
	case OpCreateSession, OpAttachPhoneLeg, OpAttachBrowserLeg,
		OpControlLeg, OpEndSession, OpFetchStatus:
		return true
	default:
		return false
	}
}

func (a *ConferenceAdapter) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.accountURL(""), nil)
	if err != nil {
		return fmt.Errorf("conference health: %w", err)
	}
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.APIToken)

	resp, err := a.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return mapStatusError(resp.StatusCode, body)
	}
	return nil
}

func (a *ConferenceAdapter) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error) {
	form := url.Values{}
	form.Set("UniqueName", req.SessionID)
	if cb := a.callbackURL(req.SessionID); cb != "" {
		form.Set("StatusCallback", cb)
		form.Set("StatusCallbackMethod", "POST")
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := a.postForm(ctx, a.accountURL("Rooms.json"), form, &out); err != nil {
		return CreateSessionResult{}, fmt.Errorf("conference create session: %w", err)
	}
	if out.SID == "" {
		return CreateSessionResult{}, fmt.Errorf("%w: room response missing sid", ErrRejected)
	}
	return CreateSessionResult{ProviderSessionRef: out.SID}, nil
}

func (a *ConferenceAdapter) AttachPhoneLeg(ctx context.Context, req AttachPhoneLegRequest) (AttachPhoneLegResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Room", req.ProviderSessionRef)
	form.Set("Timeout", strconv.Itoa(ringSeconds(req.RingTimeout)))
	if cb := a.callbackURL(req.SessionID); cb != "" {
		form.Set("StatusCallback", cb)
		form.Set("StatusCallbackEvent", "initiated,ringing,answered,completed")
		form.Set("StatusCallbackMethod", "POST")
	}

	var out struct {
		SID string `json:"sid"`
	}
	if err := a.postForm(ctx, a.accountURL("Calls.json"), form, &out); err != nil {
		return AttachPhoneLegResult{}, fmt.Errorf("conference attach phone leg: %w", err)
	}
	return AttachPhoneLegResult{LegRef: out.SID}, nil
}

func (a *ConferenceAdapter) AttachBrowserLeg(ctx context.Context, req AttachBrowserLegRequest) (AttachBrowserLegResult, error) {
	form := url.Values{}
	form.Set("Identity", req.ClientID)

	var out struct {
		SID       string    `json:"sid"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	u := a.accountURL(fmt.Sprintf("Rooms/%s/Tokens.json", req.ProviderSessionRef))
	if err := a.postForm(ctx, u, form, &out); err != nil {
		return AttachBrowserLegResult{}, fmt.Errorf("conference attach browser leg: %w", err)
	}
	return AttachBrowserLegResult{
		LegRef: out.SID,
		Credentials: BrowserCredentials{
			Token:     out.Token,
			Room:      req.ProviderSessionRef,
			ExpiresAt: out.ExpiresAt,
		},
	}, nil
}

func (a *ConferenceAdapter) ControlLeg(ctx context.Context, req ControlLegRequest) (ControlLegResult, error) {
	form := url.Values{}
	switch req.Action {
	case ControlMute:
		form.Set("Muted", "true")
	case ControlUnmute:
		form.Set("Muted", "false")
	case ControlHold:
		form.Set("Hold", "true")
	case ControlResume:
		form.Set("Hold", "false")
	default:
		return ControlLegResult{}, fmt.Errorf("%w: action %q", ErrUnsupportedControl, req.Action)
	}

	u := a.accountURL(fmt.Sprintf("Rooms/%s/Participants/%s.json", req.ProviderSessionRef, req.LegRef))
	if err := a.postForm(ctx, u, form, nil); err != nil {
		return ControlLegResult{}, fmt.Errorf("conference control leg: %w", err)
	}
	return ControlLegResult{Acknowledged: true}, nil
}

func (a *ConferenceAdapter) EndSession(ctx context.Context, req EndSessionRequest) (EndSessionResult, error) {
	u := a.accountURL(fmt.Sprintf("Rooms/%s.json", req.ProviderSessionRef))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return EndSessionResult{}, fmt.Errorf("conference end session: %w", err)
	}
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.APIToken)

	resp, err := a.hc.Do(httpReq)
	if err != nil {
		return EndSessionResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// A room the vendor already tore down is a success; ending is idempotent.
	if resp.StatusCode == http.StatusNotFound {
		return EndSessionResult{AlreadyEnded: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return EndSessionResult{}, fmt.Errorf("conference end session: %w", mapStatusError(resp.StatusCode, body))
	}
	return EndSessionResult{}, nil
}

func (a *ConferenceAdapter) FetchStatus(ctx context.Context, req FetchStatusRequest) (StatusResult, error) {
	u := a.accountURL(fmt.Sprintf("Rooms/%s.json", req.ProviderSessionRef))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("conference fetch status: %w", err)
	}
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.APIToken)

	resp, err := a.hc.Do(httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusResult{SessionActive: false, PhoneLeg: LegStatusEnded, BrowserLeg: LegStatusEnded}, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return StatusResult{}, fmt.Errorf("%w: read status body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return StatusResult{}, fmt.Errorf("conference fetch status: %w", mapStatusError(resp.StatusCode, body))
	}

	var out struct {
		Status       string `json:"status"`
		Participants []struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"participants"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return StatusResult{}, fmt.Errorf("conference fetch status: decode: %w", err)
	}

	res := StatusResult{
		SessionActive: out.Status == "in-progress",
		PhoneLeg:      LegStatusUnknown,
		BrowserLeg:    LegStatusUnknown,
	}
	for _, p := range out.Participants {
		st := conferenceParticipantStatus(p.Status)
		switch p.Kind {
		case "phone":
			res.PhoneLeg = st
		case "client":
			res.BrowserLeg = st
		}
	}
	return res, nil
}

func conferenceParticipantStatus(s string) LegStatus {
	switch s {
	case "queued", "initiated":
		return LegStatusQueued
	case "ringing":
		return LegStatusRinging
	case "connected", "in-progress":
		return LegStatusAnswered
	case "disconnected", "completed":
		return LegStatusEnded
	default:
		return LegStatusUnknown
	}
}

// callbackURL tags the status callback with our session id; the vendor
// echoes the query string back on every event, which is how webhooks find
// their session without a reverse index.
func (a *ConferenceAdapter) callbackURL(sessionID string) string {
	if a.cfg.CallbackURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(a.cfg.CallbackURL, "?") {
		sep = "&"
	}
	return a.cfg.CallbackURL + sep + "session_id=" + url.QueryEscape(sessionID)
}

func (a *ConferenceAdapter) accountURL(p string) string {
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	if p == "" {
		return fmt.Sprintf("%s/v2/Accounts/%s.json", base, a.cfg.AccountSID)
	}
	return fmt.Sprintf("%s/v2/Accounts/%s/%s", base, a.cfg.AccountSID, p)
}

func (a *ConferenceAdapter) postForm(ctx context.Context, u string, form url.Values, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.APIToken)

	resp, err := a.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapStatusError(resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ringSeconds converts the ring window into the vendor's whole-second
// Timeout field, defaulting to 30.
func ringSeconds(d time.Duration) int {
	if d <= 0 {
		return 30
	}
	s := int(d / time.Second)
	if s < 5 {
		s = 5
	}
	return s
}
