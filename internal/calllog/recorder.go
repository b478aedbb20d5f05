package calllog

import (
	"context"
	"errors"
)

// Recorder is a downstream consumer of completion records.
//
// Rules:
// - Record must be idempotent on SessionID: the finalizer retries delivery
//   and a redelivered record must not double-count.
// - AttachRecording arrives after Record when the vendor publishes media
//   late; recorders that cannot use it return nil.
type Recorder interface {
	Record(ctx context.Context, rec CallRecord) error
	AttachRecording(ctx context.Context, sessionID, url string) error
}

// Fanout delivers to every recorder and reports all failures together, so
// one broken consumer never starves the others.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, rec CallRecord) error {
	var errs []error
	for _, r := range f {
		if err := r.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) AttachRecording(ctx context.Context, sessionID, url string) error {
	var errs []error
	for _, r := range f {
		if err := r.AttachRecording(ctx, sessionID, url); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
