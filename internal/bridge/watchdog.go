package bridge

import (
	"context"
	"errors"
	"time"

	"coldcall-bridge/internal/metrics"
	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/pkg/logger"
)

// Watchdog reaps sessions whose webhooks never arrived. Ringing that
// outlives the ring timeout is reconciled against the vendor's own status
// before being failed, so a lost answer callback recovers the call instead
// of killing it.
type Watchdog struct {
	manager            *Manager
	interval           time.Duration
	browserJoinTimeout time.Duration
}

func NewWatchdog(m *Manager, interval, browserJoinTimeout time.Duration) *Watchdog {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if browserJoinTimeout <= 0 {
		browserJoinTimeout = 90 * time.Second
	}
	return &Watchdog{manager: m, interval: interval, browserJoinTimeout: browserJoinTimeout}
}

// Run sweeps until ctx is canceled. Meant to be started once per process;
// concurrent sweeps across instances are safe because every reap goes
// through the same CAS as any other writer.
func (w *Watchdog) Run(ctx context.Context) {
	log := logger.From(ctx)
	log.Info("watchdog started", "interval", w.interval.String(), "ring_timeout", w.manager.ringTimeout.String(), "browser_join_timeout", w.browserJoinTimeout.String())

	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("watchdog stopped")
			return
		case <-t.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep examines every live session once.
func (w *Watchdog) Sweep(ctx context.Context) {
	ids, err := w.manager.store.LiveIDs(ctx)
	if err != nil {
		logger.From(ctx).Error("watchdog live scan failed", "error", err)
		return
	}
	for _, id := range ids {
		w.check(ctx, id)
	}
}

func (w *Watchdog) check(ctx context.Context, id string) {
	m := w.manager
	s, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			logger.From(ctx).Error("watchdog read failed", "session_id", id, "error", err)
		}
		return
	}
	now := m.clock()

	switch s.State {
	case session.StateInit:
		// Initiate crashed between create and the dialing commit.
		if now.Sub(s.CreatedAt) > m.ringTimeout {
			w.reap(ctx, s, session.ReasonProviderError)
		}
	case session.StateDialing, session.StateRinging:
		if now.Sub(s.CreatedAt) > m.ringTimeout {
			w.reapUnanswered(ctx, s, now)
		}
	case session.StateConnectingBrowser:
		if now.Sub(s.UpdatedAt) > w.browserJoinTimeout {
			w.endAtProvider(ctx, s)
			w.reap(ctx, s, session.ReasonBrowserJoinTimeout)
		}
	}
}

// reapUnanswered handles a dial that outlived the ring timeout. The vendor
// is asked first: an answered leg means the webhook was lost, and the
// answer is replayed into the state machine instead of failing the call.
func (w *Watchdog) reapUnanswered(ctx context.Context, s *session.Session, now time.Time) {
	m := w.manager
	log := logger.From(ctx).With("session_id", s.ID, "provider", s.Provider)

	adapter, err := m.providers.Get(s.Provider)
	if err == nil && adapter.Supports(provider.OpFetchStatus) && s.ProviderSessionRef != "" {
		st, ferr := adapter.FetchStatus(ctx, provider.FetchStatusRequest{
			SessionID:          s.ID,
			ProviderSessionRef: s.ProviderSessionRef,
		})
		switch {
		case ferr != nil:
			// Transient vendor trouble gets the next sweep; a dial stuck
			// past twice the ring window is failed regardless.
			if now.Sub(s.CreatedAt) <= 2*m.ringTimeout {
				log.Warn("status reconcile failed, retrying next sweep", "error", ferr)
				return
			}
		case st.PhoneLeg == provider.LegStatusAnswered:
			log.Info("reconciled lost answer from provider status")
			if _, aerr := m.ApplyEvent(ctx, Event{
				SessionID:  s.ID,
				Provider:   s.Provider,
				Type:       EventLegAnswered,
				LegRole:    session.LegPhone,
				OccurredAt: now,
			}); aerr != nil {
				log.Error("replaying reconciled answer failed", "error", aerr)
			}
			metrics.IncWatchdogReap("reconciled_answer")
			return
		}
	}

	w.endAtProvider(ctx, s)
	w.reap(ctx, s, session.ReasonNoAnswerTimeout)
}

func (w *Watchdog) reap(ctx context.Context, s *session.Session, reason string) {
	_, wrote, err := w.manager.failSession(ctx, s.ID, reason)
	if err != nil {
		logger.From(ctx).Error("watchdog reap failed", "session_id", s.ID, "reason", reason, "error", err)
		return
	}
	if wrote {
		metrics.IncWatchdogReap(reason)
		logger.From(ctx).Info("session reaped", "session_id", s.ID, "state", string(s.State), "reason", reason)
	}
}

// endAtProvider tears down vendor-side resources best effort; the session
// is failed locally either way.
func (w *Watchdog) endAtProvider(ctx context.Context, s *session.Session) {
	adapter, err := w.manager.providers.Get(s.Provider)
	if err != nil || s.ProviderSessionRef == "" || !adapter.Supports(provider.OpEndSession) {
		return
	}
	if _, err := adapter.EndSession(ctx, provider.EndSessionRequest{
		SessionID:          s.ID,
		ProviderSessionRef: s.ProviderSessionRef,
	}); err != nil {
		logger.From(ctx).Warn("provider teardown failed during reap", "session_id", s.ID, "error", err)
	}
}
