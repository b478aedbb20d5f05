package webhook

import (
	"context"
	"sync"

	"coldcall-bridge/internal/bridge"
	"coldcall-bridge/internal/metrics"
	"coldcall-bridge/pkg/logger"
)

// EventApplier is what the dispatcher needs from the session manager.
type EventApplier interface {
	ApplyEvent(ctx context.Context, ev bridge.Event) (bridge.ApplyOutcome, error)
}

// Dispatcher decouples webhook acks from state application: handlers
// enqueue and answer immediately, workers fold events into the manager.
// The queue is bounded; a full queue surfaces as backpressure to the
// vendor instead of blocking the ack path.
type Dispatcher struct {
	applier EventApplier
	queue   chan bridge.Event
	wg      sync.WaitGroup
	workers int
}

func NewDispatcher(applier EventApplier, workers, depth int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 256
	}
	return &Dispatcher{
		applier: applier,
		queue:   make(chan bridge.Event, depth),
		workers: workers,
	}
}

// Start launches the workers; they stop when ctx is canceled. Events still
// queued at shutdown are abandoned, which is safe: vendors retry
// undelivered callbacks and the watchdog reconciles the rest.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue hands an event to the workers without blocking; false means the
// queue is full.
func (d *Dispatcher) Enqueue(ev bridge.Event) bool {
	select {
	case d.queue <- ev:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.apply(ctx, ev)
		}
	}
}

func (d *Dispatcher) apply(ctx context.Context, ev bridge.Event) {
	outcome, err := d.applier.ApplyEvent(ctx, ev)
	if err != nil {
		metrics.IncWebhookEvent(ev.Provider, string(ev.Type), "error")
		logger.From(ctx).Error("webhook event apply failed",
			"session_id", ev.SessionID, "type", string(ev.Type), "seq", ev.Seq, "error", err)
		return
	}
	metrics.IncWebhookEvent(ev.Provider, string(ev.Type), string(outcome))
	if outcome == bridge.OutcomeApplied {
		logger.From(ctx).Debug("webhook event applied",
			"session_id", ev.SessionID, "type", string(ev.Type), "seq", ev.Seq)
	}
}
