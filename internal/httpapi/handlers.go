package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coldcall-bridge/internal/audit"
	"coldcall-bridge/internal/auth"
	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/reporting"
	"coldcall-bridge/internal/session"
)

// Handlers groups the bridge API handlers for dependency injection.
// Keep these thin: parse/validate input, call the bridge, map the result.
type Handlers struct {
	Manager *bridge.Manager
	Control *bridge.Controller
	Reports *reporting.Service
	Audit   *audit.Service
}

// --- Views ---

// legView is the client-visible slice of a leg. leg_id carries the
// provider's leg reference; last_seq shows how far event delivery got.
type legView struct {
	Role     session.LegRole `json:"role"`
	LegID    string          `json:"leg_id,omitempty"`
	JoinedAt *time.Time      `json:"joined_at,omitempty"`
	LeftAt   *time.Time      `json:"left_at,omitempty"`
	Muted    bool            `json:"muted"`
	OnHold   bool            `json:"on_hold"`
	LastSeq  uint64          `json:"last_seq"`
}

// sessionView is the snapshot clients poll. The CAS version and the
// finalize claim flag are store bookkeeping and stay off the wire.
type sessionView struct {
	SessionID          string           `json:"session_id"`
	Provider           string           `json:"provider"`
	Topology           session.Topology `json:"topology"`
	State              session.State    `json:"state"`
	To                 string           `json:"to"`
	From               string           `json:"from"`
	ProviderSessionRef string           `json:"provider_session_ref,omitempty"`
	PhoneLeg           *legView         `json:"phone_leg,omitempty"`
	BrowserLeg         *legView         `json:"browser_leg,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	AnsweredAt         *time.Time       `json:"answered_at,omitempty"`
	EndedAt            *time.Time       `json:"ended_at,omitempty"`
	EndReason          string           `json:"end_reason,omitempty"`
	RecordingURL       string           `json:"recording_url,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		SessionID:          s.ID,
		Provider:           s.Provider,
		Topology:           s.Topology,
		State:              s.State,
		To:                 s.To,
		From:               s.From,
		ProviderSessionRef: s.ProviderSessionRef,
		PhoneLeg:           legViewOf(s.PhoneLeg),
		BrowserLeg:         legViewOf(s.BrowserLeg),
		CreatedAt:          s.CreatedAt,
		AnsweredAt:         s.AnsweredAt,
		EndedAt:            s.EndedAt,
		EndReason:          s.EndReason,
		RecordingURL:       s.RecordingURL,
	}
}

func legViewOf(l *session.Leg) *legView {
	if l == nil {
		return nil
	}
	return &legView{
		Role:     l.Role,
		LegID:    l.ProviderRef,
		JoinedAt: l.JoinedAt,
		LeftAt:   l.LeftAt,
		Muted:    l.Muted,
		OnHold:   l.OnHold,
		LastSeq:  l.LastSeq,
	}
}

// --- Initiate ---

type initiateRequest struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Provider string `json:"provider"`

	// SessionID lets the CRM supply its own id for duplicate detection;
	// reuse fails with session_exists instead of double-dialing.
	SessionID string `json:"session_id,omitempty"`
}

func (h Handlers) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.To == "" || req.Provider == "" {
		badRequest(c, "to, provider required")
		return
	}

	s, err := h.Manager.Initiate(c.Request.Context(), bridge.InitiateRequest{
		SessionID: req.SessionID,
		To:        req.To,
		From:      req.From,
		Provider:  req.Provider,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditInitiate(c, s)
	c.JSON(http.StatusCreated, viewOf(s))
}

// --- Browser join ---

type webRTCJoinRequest struct {
	SessionID string `json:"session_id"`
	ClientID  string `json:"client_id"`
}

func (h Handlers) WebRTCJoin(c *gin.Context) {
	var req webRTCJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.SessionID == "" || req.ClientID == "" {
		badRequest(c, "session_id, client_id required")
		return
	}

	creds, s, err := h.Manager.AttachBrowser(c.Request.Context(), req.SessionID, req.ClientID)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		actor, _ := auth.ServiceName(c.Request.Context())
		_ = h.Audit.LogBrowserJoin(c.Request.Context(), actor, c.ClientIP(), s.ID)
	}
	c.JSON(http.StatusOK, gin.H{"state": s.State, "credentials": creds})
}

// --- Leg controls ---

type muteRequest struct {
	SessionID string `json:"session_id"`
	Leg       string `json:"leg"`
	Muted     *bool  `json:"muted"`
}

func (h Handlers) Mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.SessionID == "" || req.Muted == nil {
		badRequest(c, "session_id, muted required")
		return
	}
	role, ok := legRole(req.Leg)
	if !ok {
		badRequest(c, "leg must be phone or browser")
		return
	}

	s, err := h.Control.SetMute(c.Request.Context(), req.SessionID, role, *req.Muted)
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditControl(c, s.ID, muteAction(*req.Muted), string(role))
	c.JSON(http.StatusOK, viewOf(s))
}

type holdRequest struct {
	SessionID string `json:"session_id"`

	// Leg is accepted for symmetry with mute but only the phone side can
	// be held; omitting it means phone.
	Leg  string `json:"leg,omitempty"`
	Held *bool  `json:"held"`
}

func (h Handlers) Hold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.SessionID == "" || req.Held == nil {
		badRequest(c, "session_id, held required")
		return
	}
	if req.Leg != "" && req.Leg != string(session.LegPhone) {
		writeError(c, fmt.Errorf("hold %s leg: %w", req.Leg, provider.ErrUnsupportedControl))
		return
	}

	s, err := h.Control.SetHold(c.Request.Context(), req.SessionID, *req.Held)
	if err != nil {
		writeError(c, err)
		return
	}
	h.auditControl(c, s.ID, holdAction(*req.Held), string(session.LegPhone))
	c.JSON(http.StatusOK, viewOf(s))
}

// --- End ---

type endRequest struct {
	SessionID string `json:"session_id"`
}

func (h Handlers) End(c *gin.Context) {
	var req endRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "session_id required")
		return
	}

	s, err := h.Control.End(c.Request.Context(), req.SessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.Audit != nil {
		actor, _ := auth.ServiceName(c.Request.Context())
		_ = h.Audit.LogEnd(c.Request.Context(), actor, c.ClientIP(), s.ID)
	}
	c.JSON(http.StatusOK, gin.H{"state": s.State, "ended_at": s.EndedAt, "end_reason": s.EndReason})
}

// --- Status ---

func (h Handlers) Status(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		badRequest(c, "session_id required")
		return
	}
	s, err := h.Manager.GetSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

// --- Summary ---

func (h Handlers) Summary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured", "code": "internal"})
		return
	}

	// Missing bounds default to the last 24 hours.
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "to must be RFC 3339")
			return
		}
		to = t
		from = to.Add(-24 * time.Hour)
	}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "from must be RFC 3339")
			return
		}
		from = t
	}

	sum, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{
		Range:    reporting.TimeRange{From: from, To: to},
		Provider: c.Query("provider"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			badRequest(c, err.Error())
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Audit helpers ---

// Audit writes are best-effort: a failed insert never fails the request.

func (h Handlers) auditInitiate(c *gin.Context, s *session.Session) {
	if h.Audit == nil {
		return
	}
	actor, _ := auth.ServiceName(c.Request.Context())
	_ = h.Audit.LogInitiate(c.Request.Context(), actor, c.ClientIP(), s.ID, s.Provider)
}

func (h Handlers) auditControl(c *gin.Context, sessionID, action, leg string) {
	if h.Audit == nil {
		return
	}
	actor, _ := auth.ServiceName(c.Request.Context())
	_ = h.Audit.LogControl(c.Request.Context(), actor, c.ClientIP(), sessionID, action, leg)
}

func legRole(s string) (session.LegRole, bool) {
	switch session.LegRole(s) {
	case session.LegPhone, session.LegBrowser:
		return session.LegRole(s), true
	default:
		return "", false
	}
}

func muteAction(muted bool) string {
	if muted {
		return "mute"
	}
	return "unmute"
}

func holdAction(held bool) string {
	if held {
		return "hold"
	}
	return "resume"
}
