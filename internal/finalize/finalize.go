// Package finalize closes the books on terminal sessions: it claims the
// snapshot's finalized flag, prices the answered time, and delivers the
// call record downstream without blocking the transition that triggered it.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coldcall-bridge/internal/audit"
	"coldcall-bridge/internal/calllog"
	"coldcall-bridge/internal/metrics"
	"coldcall-bridge/internal/pricing"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/pkg/logger"
)

const claimRetries = 5

// errClaimLost means another actor finalized the session first.
var errClaimLost = errors.New("finalize: claim lost")

// CostCalculator prices an answered bridge. *pricing.Service implements it.
type CostCalculator interface {
	CalculateCallCost(ctx context.Context, req pricing.CallCostRequest) (pricing.CallCost, error)
}

// Deps are the finalizer's collaborators. Pricer may be nil when no rate
// card is configured; records then carry zero cost. Audit may be nil.
type Deps struct {
	Store    session.Store
	Recorder calllog.Recorder
	Pricer   CostCalculator
	Audit    *audit.Service
}

// Finalizer implements the manager's completion sink. Delivery runs in
// short-lived goroutines with retry, so a slow or down collector never
// delays a terminal state transition.
type Finalizer struct {
	store    session.Store
	recorder calllog.Recorder
	pricer   CostCalculator
	audit    *audit.Service

	// retries is the number of re-attempts after the first delivery try.
	retries   int
	baseDelay time.Duration

	base context.Context
	wg   sync.WaitGroup
}

func NewFinalizer(deps Deps, retries int, baseDelay time.Duration) *Finalizer {
	if retries <= 0 {
		retries = 5
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Finalizer{
		store:     deps.Store,
		recorder:  deps.Recorder,
		pricer:    deps.Pricer,
		audit:     deps.Audit,
		retries:   retries,
		baseDelay: baseDelay,
	}
}

// Start binds delivery goroutines to ctx so shutdown cancels their retry
// sleeps. Call before traffic; without it work runs under Background.
func (f *Finalizer) Start(ctx context.Context) {
	f.base = ctx
}

// Wait blocks until every in-flight finalization has finished.
func (f *Finalizer) Wait() {
	f.wg.Wait()
}

// SessionEnded is invoked exactly once per session, by whichever writer
// committed the terminal transition. The claim flag still guards delivery
// so a second caller (crash replay, operator tooling) walks away clean.
func (f *Finalizer) SessionEnded(ctx context.Context, s *session.Session) {
	log := logger.From(ctx).With("session_id", s.ID)
	id := s.ID
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.finalize(f.background(), log, id)
	}()
}

// RecordingReady attaches a late recording URL to the already-delivered
// record. Recordings trail the terminal webhook by minutes at some vendors.
func (f *Finalizer) RecordingReady(ctx context.Context, s *session.Session) {
	if s.RecordingURL == "" {
		return
	}
	log := logger.From(ctx).With("session_id", s.ID)
	id, url := s.ID, s.RecordingURL
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		err := f.withRetry(f.background(), func(ctx context.Context) error {
			return f.recorder.AttachRecording(ctx, id, url)
		})
		if err != nil {
			log.Error("recording attach failed", "url", url, "error", err)
			return
		}
		log.Debug("recording attached", "url", url)
	}()
}

func (f *Finalizer) background() context.Context {
	if f.base != nil {
		return f.base
	}
	return context.Background()
}

func (f *Finalizer) finalize(ctx context.Context, log *slog.Logger, id string) {
	claimed, err := f.claim(ctx, id)
	if errors.Is(err, errClaimLost) {
		metrics.IncFinalize("lost_claim")
		log.Debug("finalize claim lost")
		return
	}
	if err != nil {
		metrics.IncFinalize("claim_failed")
		log.Error("finalize claim failed", "error", err)
		return
	}

	rec := f.buildRecord(ctx, log, claimed)
	err = f.withRetry(ctx, func(ctx context.Context) error {
		return f.recorder.Record(ctx, rec)
	})
	if err != nil {
		metrics.IncFinalize("delivery_failed")
		log.Error("call record delivery failed",
			"attempts", f.retries+1, "end_reason", rec.EndReason, "error", err)
		f.auditOutcome(ctx, log, id, "delivery_failed")
		return
	}
	metrics.IncFinalize("delivered")
	log.Info("call record delivered",
		"state", rec.State, "end_reason", rec.EndReason,
		"duration_seconds", rec.DurationSeconds, "cost_minor", rec.CostMinor)
	f.auditOutcome(ctx, log, id, "delivered")
}

func (f *Finalizer) auditOutcome(ctx context.Context, log *slog.Logger, id, outcome string) {
	if f.audit == nil {
		return
	}
	if err := f.audit.LogFinalize(ctx, id, outcome); err != nil {
		log.Warn("audit append failed", "error", err)
	}
}

// claim CAS-sets the finalized flag; exactly one caller per session wins.
func (f *Finalizer) claim(ctx context.Context, id string) (*session.Session, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		cur, err := f.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if cur.Finalized {
			return nil, errClaimLost
		}
		next := cur.Clone()
		next.Finalized = true

		err = f.store.Update(ctx, next, cur.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, session.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("session %s: %w after %d attempts", id, session.ErrVersionConflict, claimRetries)
}

// buildRecord snapshots the claimed session into an immutable call record.
// Pricing failures degrade to a zero-cost record rather than losing it.
func (f *Finalizer) buildRecord(ctx context.Context, log *slog.Logger, s *session.Session) calllog.CallRecord {
	rec := calllog.CallRecord{
		SessionID:    s.ID,
		Provider:     s.Provider,
		Topology:     string(s.Topology),
		To:           s.To,
		From:         s.From,
		State:        string(s.State),
		EndReason:    s.EndReason,
		CreatedAt:    s.CreatedAt,
		AnsweredAt:   s.AnsweredAt,
		RecordingURL: s.RecordingURL,
	}
	if s.EndedAt != nil {
		rec.EndedAt = *s.EndedAt
	}
	rec.DurationSeconds = s.DurationSeconds()

	// Never-bridged sessions cost nothing.
	if rec.DurationSeconds == 0 || f.pricer == nil {
		return rec
	}

	cost, err := f.pricer.CalculateCallCost(ctx, pricing.CallCostRequest{
		Provider:        s.Provider,
		To:              s.To,
		DurationSeconds: rec.DurationSeconds,
		At:              rec.EndedAt,
	})
	switch {
	case err == nil:
		rec.CostMinor = cost.TotalMinor
		rec.Currency = cost.Currency
	case errors.Is(err, pricing.ErrRateNotFound):
		log.Debug("no rate for call, recording zero cost", "provider", s.Provider)
	default:
		log.Warn("pricing failed, recording zero cost", "error", err)
	}
	return rec
}

// withRetry runs fn up to retries+1 times with quadratic backoff.
func (f *Finalizer) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * f.baseDelay
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
