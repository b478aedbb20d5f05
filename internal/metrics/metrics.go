// Package metrics exposes the bridge's Prometheus instruments behind
// plain functions so callers never touch collector types directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coldcall_sessions_active",
		Help: "Sessions not yet terminal",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldcall_state_transitions_total",
		Help: "Session state transitions",
	}, []string{"from", "to"})

	initiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldcall_initiations_total",
		Help: "Initiate attempts by provider and outcome",
	}, []string{"provider", "outcome"}) // outcome=accepted|rejected

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldcall_webhook_events_total",
		Help: "Webhook events by provider, type and apply outcome",
	}, []string{"provider", "type", "outcome"})

	finalizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldcall_finalize_total",
		Help: "Completion finalizer outcomes",
	}, []string{"outcome"}) // outcome=delivered|lost_claim|claim_failed|delivery_failed

	dialToActiveSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldcall_dial_to_active_seconds",
		Help:    "Time from initiate until both legs joined",
		Buckets: []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90},
	})

	watchdogReapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldcall_watchdog_reaps_total",
		Help: "Sessions failed by the watchdog, by reason",
	}, []string{"reason"})
)

func IncSessionsActive() { sessionsActive.Inc() }

func DecSessionsActive() { sessionsActive.Dec() }

func IncTransition(from, to string) { transitionsTotal.WithLabelValues(from, to).Inc() }

func IncInitiation(provider, outcome string) {
	initiationsTotal.WithLabelValues(provider, outcome).Inc()
}

func IncWebhookEvent(provider, eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, eventType, outcome).Inc()
}

func IncFinalize(outcome string) { finalizeTotal.WithLabelValues(outcome).Inc() }

func ObserveDialToActive(sec float64) { dialToActiveSeconds.Observe(sec) }

func IncWatchdogReap(reason string) { watchdogReapsTotal.WithLabelValues(reason).Inc() }
