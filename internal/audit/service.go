package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only; there are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
//
// Audit is internal-only; records are never exposed through the public API.
// Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogInitiate records a new bridge being dialed.
func (s *Service) LogInitiate(ctx context.Context, actor, ip, sessionID, provider string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeInitiate,
		SessionID: sessionID,
		Provider:  provider,
		Actor:     actor,
		IPAddress: ip,
		Message:   "bridge initiated",
	})
}

// LogBrowserJoin records browser credentials being issued.
func (s *Service) LogBrowserJoin(ctx context.Context, actor, ip, sessionID string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeBrowserJoin,
		SessionID: sessionID,
		Actor:     actor,
		IPAddress: ip,
		Message:   "browser credentials issued",
	})
}

// LogControl records a live-leg control action ("mute", "unmute", "hold",
// "resume") against a leg role.
func (s *Service) LogControl(ctx context.Context, actor, ip, sessionID, action, leg string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeControl,
		SessionID: sessionID,
		Actor:     actor,
		IPAddress: ip,
		Message:   action + " " + leg,
	})
}

// LogEnd records an API-requested teardown.
func (s *Service) LogEnd(ctx context.Context, actor, ip, sessionID string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeEnd,
		SessionID: sessionID,
		Actor:     actor,
		IPAddress: ip,
		Message:   "end requested",
	})
}

// LogFinalize records the completion record leaving for the call log.
func (s *Service) LogFinalize(ctx context.Context, sessionID, outcome string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeFinalize,
		SessionID: sessionID,
		Actor:     "finalizer",
		Message:   outcome,
	})
}
