package finalize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coldcall-bridge/internal/audit"
	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/pricing"
	"coldcall-bridge/internal/session"
)

// countingRecorder counts deliveries and can fail the first failTimes
// Record calls to exercise retry.
type countingRecorder struct {
	mu        sync.Mutex
	failTimes int
	records   []calllog.CallRecord
	recordN   int
	attachN   int
}

func (r *countingRecorder) Record(_ context.Context, rec calllog.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordN++
	if r.recordN <= r.failTimes {
		return errors.New("collector down")
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *countingRecorder) AttachRecording(_ context.Context, sessionID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachN++
	for i := range r.records {
		if r.records[i].SessionID == sessionID {
			r.records[i].RecordingURL = url
		}
	}
	return nil
}

func (r *countingRecorder) calls() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordN, r.attachN
}

func (r *countingRecorder) delivered() []calllog.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calllog.CallRecord, len(r.records))
	copy(out, r.records)
	return out
}

type erroringPricer struct{}

func (erroringPricer) CalculateCallCost(context.Context, pricing.CallCostRequest) (pricing.CallCost, error) {
	return pricing.CallCost{}, errors.New("rate db unreachable")
}

func usRates() *pricing.Service {
	return pricing.NewService(&pricing.MemoryRepo{Rates: []pricing.MinuteRate{{
		ID:                      "rate-us",
		Provider:                "conference",
		Region:                  "US",
		Currency:                "USD",
		RatePerMinuteMinor:      15,
		BillingIncrementSeconds: 60,
		EffectiveFrom:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:                  pricing.RateStatusActive,
	}}})
}

func endedSession(id string) *session.Session {
	created := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	answered := created.Add(20 * time.Second)
	ended := answered.Add(100 * time.Second)
	joined := answered
	return &session.Session{
		ID:       id,
		Provider: "conference",
		Topology: session.TopologyConference,
		State:    session.StateEnded,
		To:       "+16502530000",
		From:     "+15550100",

		ProviderSessionRef: "room-" + id,
		PhoneLeg:           &session.Leg{Role: session.LegPhone, ProviderRef: "PL1", JoinedAt: &joined, LeftAt: &ended},
		BrowserLeg:         &session.Leg{Role: session.LegBrowser, ProviderRef: "BL1", JoinedAt: &joined, LeftAt: &ended},

		CreatedAt:  created,
		UpdatedAt:  ended,
		AnsweredAt: &answered,
		EndedAt:    &ended,
		EndReason:  session.ReasonCompleted,
	}
}

func failedSession(id string) *session.Session {
	s := endedSession(id)
	s.State = session.StateFailed
	s.EndReason = session.ReasonNoAnswer
	s.AnsweredAt = nil
	s.PhoneLeg.JoinedAt = nil
	s.PhoneLeg.LeftAt = nil
	s.BrowserLeg = nil
	return s
}

func seed(t *testing.T, store session.Store, s *session.Session) {
	t.Helper()
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session %s: %v", s.ID, err)
	}
}

func newFinalizerFor(store session.Store, rec calllog.Recorder, pricer CostCalculator, retries int) *Finalizer {
	return NewFinalizer(Deps{Store: store, Recorder: rec, Pricer: pricer}, retries, time.Millisecond)
}

func TestSessionEnded_DeliversPricedRecord(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, usRates(), 1)

	s := endedSession("cc-fin-1")
	seed(t, store, s)

	f.SessionEnded(context.Background(), s)
	f.Wait()

	got := rec.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
	r := got[0]
	if r.SessionID != "cc-fin-1" || r.Provider != "conference" {
		t.Fatalf("unexpected record identity: %+v", r)
	}
	if r.State != "ended" || r.EndReason != session.ReasonCompleted {
		t.Fatalf("state/reason = %s/%s", r.State, r.EndReason)
	}
	if r.DurationSeconds != 100 {
		t.Fatalf("duration = %d, want 100", r.DurationSeconds)
	}
	// 100s rounds to 2 started minutes at 15 minor each.
	if r.CostMinor != 30 || r.Currency != "USD" {
		t.Fatalf("cost = %d %s, want 30 USD", r.CostMinor, r.Currency)
	}
	if !r.EndedAt.Equal(*s.EndedAt) {
		t.Fatalf("ended_at = %v, want %v", r.EndedAt, *s.EndedAt)
	}

	stored, err := store.Get(context.Background(), "cc-fin-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !stored.Finalized {
		t.Fatal("expected finalized flag set on the snapshot")
	}
}

func TestSessionEnded_UnansweredCostsNothing(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, usRates(), 1)

	s := failedSession("cc-fin-2")
	seed(t, store, s)

	f.SessionEnded(context.Background(), s)
	f.Wait()

	got := rec.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
	r := got[0]
	if r.State != "failed" || r.EndReason != session.ReasonNoAnswer {
		t.Fatalf("state/reason = %s/%s", r.State, r.EndReason)
	}
	if r.DurationSeconds != 0 || r.CostMinor != 0 || r.Currency != "" {
		t.Fatalf("expected zero duration and cost, got %d sec / %d %s",
			r.DurationSeconds, r.CostMinor, r.Currency)
	}
	if r.AnsweredAt != nil {
		t.Fatal("answered_at should stay unset")
	}
}

func TestSessionEnded_ClaimIsExclusive(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, usRates(), 1)

	s := endedSession("cc-fin-3")
	seed(t, store, s)

	// Two actors observe the terminal transition; only one may deliver.
	f.SessionEnded(context.Background(), s)
	f.SessionEnded(context.Background(), s)
	f.Wait()

	if got := rec.delivered(); len(got) != 1 {
		t.Fatalf("delivered %d records, want exactly 1", len(got))
	}
}

func TestSessionEnded_RetriesUntilDelivered(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{failTimes: 2}
	f := newFinalizerFor(store, rec, usRates(), 3)

	seed(t, store, endedSession("cc-fin-4"))

	f.SessionEnded(context.Background(), endedSession("cc-fin-4"))
	f.Wait()

	recordN, _ := rec.calls()
	if recordN != 3 {
		t.Fatalf("record attempts = %d, want 3", recordN)
	}
	if got := rec.delivered(); len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
}

func TestSessionEnded_ExhaustedRetriesKeepSessionTerminal(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{failTimes: 100}
	f := newFinalizerFor(store, rec, usRates(), 2)

	seed(t, store, endedSession("cc-fin-5"))

	f.SessionEnded(context.Background(), endedSession("cc-fin-5"))
	f.Wait()

	recordN, _ := rec.calls()
	if recordN != 3 {
		t.Fatalf("record attempts = %d, want 3", recordN)
	}
	stored, err := store.Get(context.Background(), "cc-fin-5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != session.StateEnded || !stored.Finalized {
		t.Fatalf("session must stay terminal and claimed, got state=%s finalized=%v",
			stored.State, stored.Finalized)
	}
}

func TestSessionEnded_PricingFailureDegradesToZeroCost(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, erroringPricer{}, 1)

	seed(t, store, endedSession("cc-fin-6"))

	f.SessionEnded(context.Background(), endedSession("cc-fin-6"))
	f.Wait()

	got := rec.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
	if got[0].CostMinor != 0 || got[0].Currency != "" {
		t.Fatalf("expected zero cost on pricing failure, got %d %s",
			got[0].CostMinor, got[0].Currency)
	}
	if got[0].DurationSeconds != 100 {
		t.Fatalf("duration = %d, want 100", got[0].DurationSeconds)
	}
}

func TestRecordingReady_AttachesLateURL(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, usRates(), 1)

	s := endedSession("cc-fin-7")
	seed(t, store, s)

	f.SessionEnded(context.Background(), s)
	f.Wait()

	late := s.Clone()
	late.RecordingURL = "https://media.example.com/rec/cc-fin-7.mp3"
	f.RecordingReady(context.Background(), late)
	f.Wait()

	_, attachN := rec.calls()
	if attachN != 1 {
		t.Fatalf("attach calls = %d, want 1", attachN)
	}
	got := rec.delivered()
	if got[0].RecordingURL != "https://media.example.com/rec/cc-fin-7.mp3" {
		t.Fatalf("recording url = %q", got[0].RecordingURL)
	}
}

func TestRecordingReady_NoURLIsNoop(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, nil, 1)

	s := endedSession("cc-fin-8")
	f.RecordingReady(context.Background(), s)
	f.Wait()

	if _, attachN := rec.calls(); attachN != 0 {
		t.Fatalf("attach calls = %d, want 0", attachN)
	}
}

func TestSessionEnded_AuditsOutcome(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	auditRepo := audit.NewMemoryRepo()
	f := NewFinalizer(Deps{
		Store:    store,
		Recorder: rec,
		Audit:    audit.NewService(auditRepo),
	}, 1, time.Millisecond)

	seed(t, store, endedSession("cc-fin-10"))

	f.SessionEnded(context.Background(), endedSession("cc-fin-10"))
	f.Wait()

	evs := auditRepo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(evs))
	}
	if evs[0].Type != audit.EventTypeFinalize || evs[0].Message != "delivered" {
		t.Fatalf("unexpected audit event: %+v", evs[0])
	}
	if evs[0].SessionID != "cc-fin-10" {
		t.Fatalf("audit session = %q", evs[0].SessionID)
	}
}

func TestSessionEnded_NilPricerSkipsPricing(t *testing.T) {
	store := session.NewMemoryStore()
	rec := &countingRecorder{}
	f := newFinalizerFor(store, rec, nil, 1)

	seed(t, store, endedSession("cc-fin-9"))

	f.SessionEnded(context.Background(), endedSession("cc-fin-9"))
	f.Wait()

	got := rec.delivered()
	if len(got) != 1 {
		t.Fatalf("delivered %d records, want 1", len(got))
	}
	if got[0].CostMinor != 0 {
		t.Fatalf("cost = %d, want 0 without a rate card", got[0].CostMinor)
	}
}
