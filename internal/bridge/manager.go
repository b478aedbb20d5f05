package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"coldcall-bridge/internal/metrics"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/pkg/logger"
	"coldcall-bridge/pkg/phone"
)

// casRetries bounds the read-mutate-commit loop. Contention on one session
// is a handful of writers at worst (API call, webhook worker, watchdog), so
// a small number of retries is plenty.
const casRetries = 5

// endRetries and endRetryBase bound the vendor retry on end_session, which
// is safe to repeat. Dial calls are never retried here; a repeat could ring
// the prospect twice.
const (
	endRetries   = 3
	endRetryBase = 150 * time.Millisecond
)

var (
	ErrInvalidState = errors.New("bridge: operation not valid in current state")
	ErrNoCallerID   = errors.New("bridge: no caller id available")
	ErrCapacity     = errors.New("bridge: live session capacity reached")

	// errSkipWrite aborts a mutate loop without writing; the session stays
	// as read.
	errSkipWrite = errors.New("bridge: no write needed")
)

// CallerIDPicker supplies an outbound number when initiate omits from.
type CallerIDPicker interface {
	Pick(providerName string) (string, error)
}

// CompletionSink is told exactly once that a session went terminal, and at
// most once per late recording. Implementations must return fast; slow
// delivery belongs on their own goroutines.
type CompletionSink interface {
	SessionEnded(ctx context.Context, s *session.Session)
	RecordingReady(ctx context.Context, s *session.Session)
}

// SlotLimiter caps concurrently live sessions.
type SlotLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context)
}

// ManagerDeps wires the manager's collaborators. CallerIDs, Sink and Slots
// are optional.
type ManagerDeps struct {
	Store     session.Store
	Providers *provider.Registry
	CallerIDs CallerIDPicker
	Sink      CompletionSink
	Slots     SlotLimiter
}

// Manager drives the session state machine:
//
//	init -> dialing -> ringing -> connecting_browser -> active -> ended
//
// failed is reachable from every non-terminal state. Every mutation is a
// compare-and-swap loop on the snapshot version, so concurrent webhooks,
// API calls and the watchdog serialize per session without locks; the
// first terminal commit wins and later writers observe it and no-op.
type Manager struct {
	store     session.Store
	providers *provider.Registry
	callerIDs CallerIDPicker
	sink      CompletionSink
	slots     SlotLimiter

	ringTimeout time.Duration
	clock       func() time.Time
}

func NewManager(deps ManagerDeps, ringTimeout time.Duration, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	if ringTimeout <= 0 {
		ringTimeout = 35 * time.Second
	}
	return &Manager{
		store:       deps.Store,
		providers:   deps.Providers,
		callerIDs:   deps.CallerIDs,
		sink:        deps.Sink,
		slots:       deps.Slots,
		ringTimeout: ringTimeout,
		clock:       clock,
	}
}

// InitiateRequest starts a new bridge. SessionID may be supplied by the
// caller for duplicate detection; left empty, one is minted.
type InitiateRequest struct {
	SessionID string
	To        string
	From      string
	Provider  string
}

// Initiate validates the target, reserves capacity, allocates the provider
// session and starts the outbound dial. It is deliberately not idempotent:
// a reused session id fails with session.ErrAlreadyExists rather than
// silently double-dialing the callee.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*session.Session, error) {
	to, err := phone.NormalizeE164(req.To)
	if err != nil {
		return nil, err
	}

	adapter, err := m.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Supports(provider.OpAttachPhoneLeg) || !adapter.Supports(provider.OpEndSession) {
		return nil, fmt.Errorf("%w: %s cannot bridge calls", provider.ErrCapabilityNotAvailable, adapter.Name())
	}

	from := req.From
	if from != "" {
		if from, err = phone.NormalizeE164(from); err != nil {
			return nil, err
		}
	} else if m.callerIDs != nil {
		if from, err = m.callerIDs.Pick(adapter.Name()); err != nil {
			return nil, err
		}
	}
	if from == "" {
		return nil, ErrNoCallerID
	}

	if m.slots != nil {
		ok, err := m.slots.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire session slot: %w", err)
		}
		if !ok {
			metrics.IncInitiation(adapter.Name(), "rejected")
			return nil, ErrCapacity
		}
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	now := m.clock()
	s := &session.Session{
		ID:        id,
		Provider:  adapter.Name(),
		Topology:  adapter.Topology(),
		State:     session.StateInit,
		To:        to,
		From:      from,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Create(ctx, s); err != nil {
		m.releaseSlot(ctx)
		metrics.IncInitiation(adapter.Name(), "rejected")
		return nil, err
	}
	metrics.IncSessionsActive()

	log := logger.From(ctx).With("session_id", id, "provider", adapter.Name())

	if adapter.Supports(provider.OpCreateSession) {
		res, err := adapter.CreateSession(ctx, provider.CreateSessionRequest{SessionID: id})
		if err != nil {
			log.Error("provider session create failed", "error", err)
			m.failProvisioning(ctx, id)
			metrics.IncInitiation(adapter.Name(), "rejected")
			return nil, err
		}
		s.ProviderSessionRef = res.ProviderSessionRef
	}

	legRes, err := adapter.AttachPhoneLeg(ctx, provider.AttachPhoneLegRequest{
		SessionID:          id,
		ProviderSessionRef: s.ProviderSessionRef,
		To:                 to,
		From:               from,
		RingTimeout:        m.ringTimeout,
	})
	if err != nil {
		log.Error("outbound dial failed", "error", err)
		m.failProvisioning(ctx, id)
		metrics.IncInitiation(adapter.Name(), "rejected")
		return nil, err
	}
	if legRes.SessionRef != "" {
		s.ProviderSessionRef = legRes.SessionRef
	}

	// Commit the dialing snapshot. A webhook can land between the vendor
	// accepting the dial and this write; fold our refs into whatever state
	// the webhook already committed.
	committed, _, err := m.mutateSession(ctx, id, func(cur *session.Session) error {
		if cur.ProviderSessionRef == "" {
			cur.ProviderSessionRef = s.ProviderSessionRef
		}
		if cur.PhoneLeg == nil {
			cur.PhoneLeg = &session.Leg{Role: session.LegPhone, ProviderRef: legRes.LegRef}
		} else if cur.PhoneLeg.ProviderRef == "" {
			cur.PhoneLeg.ProviderRef = legRes.LegRef
		}
		if cur.State == session.StateInit {
			cur.State = session.StateDialing
			metrics.IncTransition(string(session.StateInit), string(session.StateDialing))
		}
		cur.UpdatedAt = m.clock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.IncInitiation(adapter.Name(), "accepted")
	log.Info("session dialing", "to", to, "from", from)
	return committed, nil
}

// AttachBrowser mints join credentials for the operator's browser leg.
// Legal while the session is live and the browser has not joined yet;
// re-attaching before join replaces the pending leg so a reloaded browser
// can fetch fresh credentials.
func (m *Manager) AttachBrowser(ctx context.Context, sessionID, clientID string) (provider.BrowserCredentials, *session.Session, error) {
	var creds provider.BrowserCredentials

	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return creds, nil, err
	}
	if s.State.Terminal() {
		return creds, nil, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	if s.BrowserLeg != nil && s.BrowserLeg.JoinedAt != nil {
		return creds, nil, fmt.Errorf("%w: browser leg already joined", ErrInvalidState)
	}

	adapter, err := m.providers.Get(s.Provider)
	if err != nil {
		return creds, nil, err
	}
	if !adapter.Supports(provider.OpAttachBrowserLeg) {
		return creds, nil, fmt.Errorf("%w: %s attach_webrtc_leg", provider.ErrCapabilityNotAvailable, s.Provider)
	}

	res, err := adapter.AttachBrowserLeg(ctx, provider.AttachBrowserLegRequest{
		SessionID:          s.ID,
		ProviderSessionRef: s.ProviderSessionRef,
		ClientID:           clientID,
	})
	if err != nil {
		return creds, nil, err
	}

	committed, _, err := m.mutateSession(ctx, sessionID, func(cur *session.Session) error {
		if cur.State.Terminal() {
			// Lost a race with a disconnect; the vendor tears the minted
			// leg down with the session.
			return fmt.Errorf("%w: session is %s", ErrInvalidState, cur.State)
		}
		if cur.BrowserLeg != nil && cur.BrowserLeg.JoinedAt != nil {
			return fmt.Errorf("%w: browser leg already joined", ErrInvalidState)
		}
		leg := &session.Leg{Role: session.LegBrowser, ProviderRef: res.LegRef}
		if cur.BrowserLeg != nil {
			// Keep the dedupe gate across credential re-issues.
			leg.LastSeq = cur.BrowserLeg.LastSeq
		}
		cur.BrowserLeg = leg
		cur.UpdatedAt = m.clock()
		return nil
	})
	if err != nil {
		return creds, nil, err
	}

	logger.From(ctx).Info("browser leg attached", "session_id", sessionID, "client_id", clientID)
	return res.Credentials, committed, nil
}

// ApplyEvent folds one normalized provider event into the session. The
// returned outcome distinguishes real transitions from the acknowledged
// no-ops (duplicates, events on terminal sessions, unknown ids) that
// webhook delivery semantics produce; only infrastructure failures return
// an error.
func (m *Manager) ApplyEvent(ctx context.Context, ev Event) (ApplyOutcome, error) {
	if ev.SessionID == "" {
		return OutcomeIgnored, nil
	}

	outcome := OutcomeIgnored
	var prevState session.State

	committed, wrote, err := m.mutateSession(ctx, ev.SessionID, func(s *session.Session) error {
		prevState = s.State

		if ev.Type == EventRecordingReady {
			return m.applyRecording(s, ev, &outcome)
		}

		if s.State.Terminal() {
			outcome = OutcomeTerminalNoop
			return errSkipWrite
		}

		// Dedupe gates: per leg for leg events, per session otherwise.
		if ev.LegRole != "" {
			leg := s.Leg(ev.LegRole)
			if leg == nil {
				outcome = OutcomeIgnored
				return errSkipWrite
			}
			if ev.Seq > 0 && ev.Seq <= leg.LastSeq {
				outcome = OutcomeDuplicate
				return errSkipWrite
			}
		} else if ev.Seq > 0 && ev.Seq <= s.LastSessionSeq {
			outcome = OutcomeDuplicate
			return errSkipWrite
		}

		if !m.applyTransition(s, ev) {
			outcome = OutcomeIgnored
			return errSkipWrite
		}

		if ev.Seq > 0 {
			if ev.LegRole != "" {
				s.Leg(ev.LegRole).LastSeq = ev.Seq
			} else {
				s.LastSessionSeq = ev.Seq
			}
		}
		s.UpdatedAt = m.clock()
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return OutcomeUnknownSession, nil
		}
		return outcome, err
	}
	if !wrote || outcome != OutcomeApplied {
		return outcome, nil
	}

	if committed.State != prevState {
		metrics.IncTransition(string(prevState), string(committed.State))
	}
	if committed.State == session.StateActive && prevState != session.StateActive {
		metrics.ObserveDialToActive(committed.AnsweredAt.Sub(committed.CreatedAt).Seconds())
	}
	if committed.State.Terminal() {
		m.afterTerminal(ctx, committed)
	}
	if ev.Type == EventRecordingReady && m.sink != nil {
		m.sink.RecordingReady(ctx, committed.Clone())
	}
	return outcome, nil
}

// applyRecording stamps the recording URL. This is the one write allowed
// after a session goes terminal: it touches neither legs nor state.
func (m *Manager) applyRecording(s *session.Session, ev Event, outcome *ApplyOutcome) error {
	if ev.Seq > 0 && ev.Seq <= s.LastSessionSeq {
		*outcome = OutcomeDuplicate
		return errSkipWrite
	}
	if ev.RecordingURL == "" || s.RecordingURL == ev.RecordingURL {
		*outcome = OutcomeDuplicate
		return errSkipWrite
	}
	if ev.Seq > 0 {
		s.LastSessionSeq = ev.Seq
	}
	s.RecordingURL = ev.RecordingURL
	s.UpdatedAt = m.clock()
	*outcome = OutcomeApplied
	return nil
}

// applyTransition mutates the snapshot for one event; false means the
// event is legal to receive but does nothing in the current state.
func (m *Manager) applyTransition(s *session.Session, ev Event) bool {
	now := ev.OccurredAt
	if now.IsZero() {
		now = m.clock()
	}

	switch ev.Type {
	case EventLegRinging:
		if ev.LegRole != session.LegPhone {
			return false
		}
		if s.State != session.StateDialing {
			return false
		}
		s.State = session.StateRinging
		return true

	case EventLegAnswered:
		switch ev.LegRole {
		case session.LegPhone:
			// Vendors may collapse the ringing callback, so answer is
			// accepted straight from dialing too.
			if s.State != session.StateDialing && s.State != session.StateRinging {
				return false
			}
			s.PhoneLeg.JoinedAt = &now
			if s.BrowserLeg != nil && s.BrowserLeg.JoinedAt != nil {
				s.State = session.StateActive
				s.AnsweredAt = &now
			} else {
				s.State = session.StateConnectingBrowser
			}
			return true
		case session.LegBrowser:
			if s.BrowserLeg == nil || s.BrowserLeg.JoinedAt != nil {
				return false
			}
			s.BrowserLeg.JoinedAt = &now
			if s.State == session.StateConnectingBrowser {
				// Both legs up only now; this instant is the answer time.
				s.State = session.StateActive
				s.AnsweredAt = &now
			}
			return true
		}
		return false

	case EventBridgeEstablished:
		if s.State != session.StateConnectingBrowser || s.BrowserLeg == nil {
			return false
		}
		if s.BrowserLeg.JoinedAt == nil {
			s.BrowserLeg.JoinedAt = &now
		}
		s.State = session.StateActive
		s.AnsweredAt = &now
		return true

	case EventLegDisconnected:
		leg := s.Leg(ev.LegRole)
		if leg == nil {
			return false
		}
		if ev.LegRole == session.LegBrowser && leg.JoinedAt == nil {
			// A browser that never joined cannot take the call down.
			return false
		}
		leg.LeftAt = &now
		m.endFromEvent(s, ev.Reason, now)
		return true

	case EventBridgeEnded:
		m.endFromEvent(s, ev.Reason, now)
		return true
	}
	return false
}

// endFromEvent picks the terminal state for a provider-initiated teardown:
// a bridged (or answered) call ends, an unanswered one failed.
func (m *Manager) endFromEvent(s *session.Session, reason string, now time.Time) {
	failed := reason == "error" || reason == session.ReasonProviderError

	switch {
	case failed:
		s.State = session.StateFailed
		if reason == "error" {
			reason = session.ReasonProviderError
		}
	case s.State == session.StateActive, s.State == session.StateConnectingBrowser:
		s.State = session.StateEnded
		if reason == "" {
			reason = session.ReasonCompleted
		}
	default:
		s.State = session.StateFailed
		if reason == "" {
			reason = session.ReasonNoAnswer
		}
	}
	s.EndReason = reason
	s.EndedAt = &now
	stampDeparture(s, now)
}

// RequestEnd tears the session down on the operator's behalf. Idempotent:
// ending an already-terminal session is a success with no side effects.
// Racing a webhook disconnect is settled by the store CAS; whichever
// commits first wins and the other observes terminal state.
func (m *Manager) RequestEnd(ctx context.Context, sessionID string) (*session.Session, error) {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.State.Terminal() {
		return s, nil
	}

	adapter, err := m.providers.Get(s.Provider)
	if err != nil {
		return nil, err
	}
	if s.ProviderSessionRef != "" && adapter.Supports(provider.OpEndSession) {
		end := func() error {
			_, err := adapter.EndSession(ctx, provider.EndSessionRequest{
				SessionID:          s.ID,
				ProviderSessionRef: s.ProviderSessionRef,
			})
			return err
		}
		if err := retryVendor(ctx, end); err != nil {
			return nil, err
		}
	}

	var prevState session.State
	committed, wrote, err := m.mutateSession(ctx, sessionID, func(cur *session.Session) error {
		if cur.State.Terminal() {
			return errSkipWrite
		}
		prevState = cur.State
		now := m.clock()
		cur.State = session.StateEnded
		if cur.AnsweredAt != nil {
			cur.EndReason = session.ReasonCompleted
		} else {
			cur.EndReason = session.ReasonCanceled
		}
		cur.EndedAt = &now
		stampDeparture(cur, now)
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wrote {
		metrics.IncTransition(string(prevState), string(session.StateEnded))
		m.afterTerminal(ctx, committed)
		logger.From(ctx).Info("session ended by request", "session_id", sessionID, "reason", committed.EndReason)
	}
	return committed, nil
}

// GetSnapshot returns a read-only copy of the session.
func (m *Manager) GetSnapshot(ctx context.Context, sessionID string) (*session.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// retryVendor reruns an idempotent vendor call a bounded number of times
// with quadratic spacing. Only vendor-side failures repeat; anything else
// surfaces at once, and a canceled context stops the wait.
func retryVendor(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if !errors.Is(err, provider.ErrUnavailable) && !errors.Is(err, provider.ErrRejected) {
			return err
		}
		if attempt == endRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt*attempt) * endRetryBase):
		}
	}
}

// failSession forces a live session terminal with the given reason. Used
// for provisioning failures and watchdog reaps; never overrides an
// existing terminal state.
func (m *Manager) failSession(ctx context.Context, sessionID, reason string) (*session.Session, bool, error) {
	var prevState session.State
	committed, wrote, err := m.mutateSession(ctx, sessionID, func(cur *session.Session) error {
		if cur.State.Terminal() {
			return errSkipWrite
		}
		prevState = cur.State
		now := m.clock()
		cur.State = session.StateFailed
		cur.EndReason = reason
		cur.EndedAt = &now
		stampDeparture(cur, now)
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if wrote {
		metrics.IncTransition(string(prevState), string(session.StateFailed))
		m.afterTerminal(ctx, committed)
	}
	return committed, wrote, nil
}

func (m *Manager) failProvisioning(ctx context.Context, sessionID string) {
	if _, _, err := m.failSession(ctx, sessionID, session.ReasonProviderError); err != nil {
		logger.From(ctx).Error("failed to mark session failed", "session_id", sessionID, "error", err)
	}
}

// afterTerminal runs exactly once per session: only the writer that
// committed the terminal transition reaches it.
func (m *Manager) afterTerminal(ctx context.Context, s *session.Session) {
	metrics.DecSessionsActive()
	m.releaseSlot(ctx)
	if m.sink != nil {
		m.sink.SessionEnded(ctx, s.Clone())
	}
}

func (m *Manager) releaseSlot(ctx context.Context) {
	if m.slots != nil {
		m.slots.Release(ctx)
	}
}

// mutateSession is the per-session serialization primitive: read, mutate a
// clone, compare-and-swap, retry on version conflicts. The bool reports
// whether a write was committed; errSkipWrite from mutate returns the
// current snapshot unchanged.
func (m *Manager) mutateSession(ctx context.Context, id string, mutate func(*session.Session) error) (*session.Session, bool, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		cur, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, errSkipWrite) {
				return cur, false, nil
			}
			return nil, false, err
		}

		err = m.store.Update(ctx, next, cur.Version)
		if err == nil {
			return next, true, nil
		}
		if !errors.Is(err, session.ErrVersionConflict) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("session %s: %w after %d attempts", id, session.ErrVersionConflict, casRetries)
}

// stampDeparture sets LeftAt on legs that joined but have no departure yet.
func stampDeparture(s *session.Session, now time.Time) {
	for _, leg := range []*session.Leg{s.PhoneLeg, s.BrowserLeg} {
		if leg != nil && leg.JoinedAt != nil && leg.LeftAt == nil {
			leg.LeftAt = &now
		}
	}
}
