package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"coldcall-bridge/internal/audit"
	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/reporting"
	"coldcall-bridge/internal/session"
)

// stubAdapter answers every provider call with canned success unless a
// failure is injected. Handler tests exercise the HTTP mapping; the state
// machine itself is covered in the bridge package.
type stubAdapter struct {
	mu         sync.Mutex
	dialErr    error
	controlErr error

	controls []provider.ControlLegRequest
}

func (a *stubAdapter) Name() string { return "conference" }

func (a *stubAdapter) Topology() session.Topology { return session.TopologyConference }

func (a *stubAdapter) Supports(provider.Operation) bool { return true }

func (a *stubAdapter) HealthCheck(context.Context) error { return nil }

func (a *stubAdapter) CreateSession(_ context.Context, req provider.CreateSessionRequest) (provider.CreateSessionResult, error) {
	return provider.CreateSessionResult{ProviderSessionRef: "room-" + req.SessionID}, nil
}

func (a *stubAdapter) AttachPhoneLeg(_ context.Context, _ provider.AttachPhoneLegRequest) (provider.AttachPhoneLegResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dialErr != nil {
		return provider.AttachPhoneLegResult{}, a.dialErr
	}
	return provider.AttachPhoneLegResult{LegRef: "PL1"}, nil
}

func (a *stubAdapter) AttachBrowserLeg(_ context.Context, req provider.AttachBrowserLegRequest) (provider.AttachBrowserLegResult, error) {
	return provider.AttachBrowserLegResult{
		LegRef: "BL1",
		Credentials: provider.BrowserCredentials{
			Token:     "tok-" + req.SessionID,
			Room:      req.ProviderSessionRef,
			ExpiresAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
		},
	}, nil
}

func (a *stubAdapter) ControlLeg(_ context.Context, req provider.ControlLegRequest) (provider.ControlLegResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.controlErr != nil {
		return provider.ControlLegResult{}, a.controlErr
	}
	a.controls = append(a.controls, req)
	return provider.ControlLegResult{Acknowledged: true}, nil
}

func (a *stubAdapter) EndSession(context.Context, provider.EndSessionRequest) (provider.EndSessionResult, error) {
	return provider.EndSessionResult{}, nil
}

func (a *stubAdapter) FetchStatus(context.Context, provider.FetchStatusRequest) (provider.StatusResult, error) {
	return provider.StatusResult{}, nil
}

func (a *stubAdapter) controlCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.controls)
}

type apiFixture struct {
	router  *gin.Engine
	store   *session.MemoryStore
	adapter *stubAdapter
	audits  *audit.MemoryRepo
	records *reporting.MemoryRepo
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		store:   session.NewMemoryStore(),
		adapter: &stubAdapter{},
		audits:  audit.NewMemoryRepo(),
		records: reporting.NewMemoryRepo(),
	}

	reg := provider.NewRegistry()
	reg.Register(f.adapter)

	clock := func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	mgr := bridge.NewManager(bridge.ManagerDeps{Store: f.store, Providers: reg}, 35*time.Second, clock)

	h := Handlers{
		Manager: mgr,
		Control: bridge.NewController(mgr),
		Reports: reporting.NewService(f.records),
		Audit:   audit.NewService(f.audits),
	}

	r := gin.New()
	r.POST("/v1/cold-call/initiate", h.Initiate)
	r.POST("/v1/cold-call/webrtc-join", h.WebRTCJoin)
	r.POST("/v1/cold-call/control/mute", h.Mute)
	r.POST("/v1/cold-call/control/hold", h.Hold)
	r.POST("/v1/cold-call/end", h.End)
	r.GET("/v1/cold-call/status/:session_id", h.Status)
	r.GET("/v1/cold-call/summary", h.Summary)
	f.router = r
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return m
}

// seedActive puts a fully bridged session into the store so control
// endpoints have something legal to act on.
func (f *apiFixture) seedActive(t *testing.T, id string) {
	t.Helper()
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	answered := created.Add(20 * time.Second)
	s := &session.Session{
		ID:                 id,
		Provider:           "conference",
		Topology:           session.TopologyConference,
		State:              session.StateActive,
		To:                 "+16502530000",
		From:               "+12025550143",
		ProviderSessionRef: "room-" + id,
		PhoneLeg:           &session.Leg{Role: session.LegPhone, ProviderRef: "PL1", JoinedAt: &answered},
		BrowserLeg:         &session.Leg{Role: session.LegBrowser, ProviderRef: "BL1", JoinedAt: &answered},
		CreatedAt:          created,
		UpdatedAt:          answered,
		AnsweredAt:         &answered,
	}
	if err := f.store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestInitiate_StartsDialingSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","from":"+12025550143","provider":"conference"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatal("expected session_id in response")
	}
	if body["provider"] != "conference" || body["topology"] != "conference_bridged" {
		t.Fatalf("unexpected provider/topology: %v", body)
	}
	if body["state"] != "dialing" {
		t.Fatalf("state = %v, want dialing", body["state"])
	}
	if ref, _ := body["provider_session_ref"].(string); ref == "" {
		t.Fatal("expected provider_session_ref in response")
	}

	if _, err := f.store.Get(context.Background(), id); err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	events := f.audits.Events()
	if len(events) != 1 || events[0].Type != audit.EventTypeInitiate {
		t.Fatalf("audit events = %+v, want one initiate", events)
	}
}

func TestInitiate_MissingFields(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate", `{"provider":"conference"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "validation_failed" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestInitiate_InvalidNumber(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"not-a-number","from":"+12025550143","provider":"conference"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_number" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestInitiate_UnknownProvider(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","from":"+12025550143","provider":"acme"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "unknown_provider" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestInitiate_MissingCallerID(t *testing.T) {
	f := newAPIFixture(t)

	// No from in the request and no pool configured.
	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","provider":"conference"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body := decodeBody(t, w); body["code"] != "validation_failed" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestInitiate_DuplicateSessionID(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"to":"+16502530000","from":"+12025550143","provider":"conference","session_id":"dup-1"}`
	if w := f.do(t, http.MethodPost, "/v1/cold-call/initiate", body); w.Code != http.StatusCreated {
		t.Fatalf("first initiate = %d", w.Code)
	}
	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("second initiate = %d", w.Code)
	}
	if b := decodeBody(t, w); b["code"] != "session_exists" {
		t.Fatalf("code = %v", b["code"])
	}
}

func TestInitiate_ProviderRejected(t *testing.T) {
	f := newAPIFixture(t)
	f.adapter.dialErr = provider.ErrRejected

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","from":"+12025550143","provider":"conference"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "provider_rejected" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestWebRTCJoin_ReturnsCredentials(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","from":"+12025550143","provider":"conference","session_id":"join-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate = %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/v1/cold-call/webrtc-join",
		`{"session_id":"join-1","client_id":"operator-7"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("join = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	creds, _ := body["credentials"].(map[string]any)
	if creds == nil || creds["token"] != "tok-join-1" {
		t.Fatalf("credentials = %v", body["credentials"])
	}
	if creds["room"] != "room-join-1" {
		t.Fatalf("room = %v", creds["room"])
	}
}

func TestWebRTCJoin_UnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/webrtc-join",
		`{"session_id":"ghost","client_id":"operator-7"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "session_not_found" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestMute_TogglesBrowserLeg(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "mute-1")

	w := f.do(t, http.MethodPost, "/v1/cold-call/control/mute",
		`{"session_id":"mute-1","leg":"browser","muted":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	leg, _ := body["browser_leg"].(map[string]any)
	if leg == nil || leg["muted"] != true {
		t.Fatalf("browser_leg = %v", body["browser_leg"])
	}
	if f.adapter.controlCount() != 1 {
		t.Fatalf("control calls = %d, want 1", f.adapter.controlCount())
	}
}

func TestMute_RequiresMutedField(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "mute-2")

	w := f.do(t, http.MethodPost, "/v1/cold-call/control/mute",
		`{"session_id":"mute-2","leg":"browser"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestMute_RejectsUnknownLeg(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "mute-3")

	w := f.do(t, http.MethodPost, "/v1/cold-call/control/mute",
		`{"session_id":"mute-3","leg":"sidecar","muted":true}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestMute_InvalidStateBeforeAnswer(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/v1/cold-call/initiate",
		`{"to":"+16502530000","from":"+12025550143","provider":"conference","session_id":"early-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate = %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/v1/cold-call/control/mute",
		`{"session_id":"early-1","leg":"phone","muted":true}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "invalid_state" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestHold_PhoneLeg(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "hold-1")

	w := f.do(t, http.MethodPost, "/v1/cold-call/control/hold",
		`{"session_id":"hold-1","held":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	leg, _ := body["phone_leg"].(map[string]any)
	if leg == nil || leg["on_hold"] != true {
		t.Fatalf("phone_leg = %v", body["phone_leg"])
	}
}

func TestHold_BrowserLegUnsupported(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "hold-2")

	w := f.do(t, http.MethodPost, "/v1/cold-call/control/hold",
		`{"session_id":"hold-2","leg":"browser","held":true}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "unsupported_control" {
		t.Fatalf("code = %v", body["code"])
	}
	if f.adapter.controlCount() != 0 {
		t.Fatalf("provider was called for a browser hold")
	}
}

func TestEnd_CompletesActiveSession(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "end-1")

	w := f.do(t, http.MethodPost, "/v1/cold-call/end", `{"session_id":"end-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["state"] != "ended" || body["end_reason"] != "completed" {
		t.Fatalf("body = %v", body)
	}
	if body["ended_at"] == nil {
		t.Fatal("expected ended_at")
	}

	// Ending again is idempotent.
	w = f.do(t, http.MethodPost, "/v1/cold-call/end", `{"session_id":"end-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("second end = %d", w.Code)
	}
}

func TestStatus_FullSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	f.seedActive(t, "stat-1")

	w := f.do(t, http.MethodGet, "/v1/cold-call/status/stat-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["session_id"] != "stat-1" || body["state"] != "active" {
		t.Fatalf("body = %v", body)
	}
	if body["provider_session_ref"] != "room-stat-1" {
		t.Fatalf("provider_session_ref = %v", body["provider_session_ref"])
	}
	phone, ok := body["phone_leg"].(map[string]any)
	if !ok || phone["leg_id"] != "PL1" {
		t.Fatalf("phone leg = %v", body["phone_leg"])
	}

	// Store bookkeeping never reaches clients.
	raw := w.Body.String()
	for _, leaked := range []string{"version", "finalized"} {
		if strings.Contains(raw, leaked) {
			t.Fatalf("response leaks %q: %s", leaked, raw)
		}
	}
}

func TestStatus_UnknownSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/cold-call/status/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSummary_AggregatesWindow(t *testing.T) {
	f := newAPIFixture(t)

	ended := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	answered := ended.Add(-90 * time.Second)
	f.records.Add(calllog.CallRecord{
		SessionID:       "sum-1",
		Provider:        "conference",
		State:           "ended",
		EndReason:       session.ReasonCompleted,
		AnsweredAt:      &answered,
		EndedAt:         ended,
		DurationSeconds: 90,
		CostMinor:       30,
		Currency:        "USD",
	})
	f.records.Add(calllog.CallRecord{
		SessionID: "sum-2",
		Provider:  "conference",
		State:     "failed",
		EndReason: session.ReasonBusy,
		EndedAt:   ended.Add(5 * time.Minute),
	})

	w := f.do(t, http.MethodGet,
		"/v1/cold-call/summary?from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["total_calls"] != float64(2) {
		t.Fatalf("total_calls = %v", body["total_calls"])
	}
	if body["completed_calls"] != float64(1) || body["busy_calls"] != float64(1) {
		t.Fatalf("buckets = %v", body)
	}
	if body["total_cost_minor"] != float64(30) || body["currency"] != "USD" {
		t.Fatalf("cost = %v %v", body["total_cost_minor"], body["currency"])
	}
}

func TestSummary_RejectsBadTimestamp(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/v1/cold-call/summary?from=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}
