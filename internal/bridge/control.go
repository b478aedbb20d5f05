package bridge

import (
	"context"
	"fmt"

	"coldcall-bridge/internal/provider"
	"coldcall-bridge/internal/session"
	"coldcall-bridge/pkg/logger"
)

// Controller exposes the in-call participant operations. Mute and hold are
// legal only while the session is active; both are idempotent, and the
// provider is only called when the flag actually flips.
type Controller struct {
	m *Manager
}

func NewController(m *Manager) *Controller {
	return &Controller{m: m}
}

// SetMute mutes or unmutes one leg.
func (c *Controller) SetMute(ctx context.Context, sessionID string, role session.LegRole, muted bool) (*session.Session, error) {
	s, leg, err := c.activeLeg(ctx, sessionID, role)
	if err != nil {
		return nil, err
	}
	if leg.Muted == muted {
		return s, nil
	}

	action := provider.ControlMute
	if !muted {
		action = provider.ControlUnmute
	}
	if err := c.controlAtProvider(ctx, s, leg, role, action); err != nil {
		return nil, err
	}

	committed, err := c.commitFlag(ctx, sessionID, role, func(l *session.Leg) {
		l.Muted = muted
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("leg mute changed", "session_id", sessionID, "role", string(role), "muted", muted)
	return committed, nil
}

// SetHold holds or resumes the phone leg. Holding the browser side has no
// meaning; the operator just stops talking.
func (c *Controller) SetHold(ctx context.Context, sessionID string, onHold bool) (*session.Session, error) {
	s, leg, err := c.activeLeg(ctx, sessionID, session.LegPhone)
	if err != nil {
		return nil, err
	}
	if leg.OnHold == onHold {
		return s, nil
	}

	action := provider.ControlHold
	if !onHold {
		action = provider.ControlResume
	}
	if err := c.controlAtProvider(ctx, s, leg, session.LegPhone, action); err != nil {
		return nil, err
	}

	committed, err := c.commitFlag(ctx, sessionID, session.LegPhone, func(l *session.Leg) {
		l.OnHold = onHold
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("phone leg hold changed", "session_id", sessionID, "on_hold", onHold)
	return committed, nil
}

// End delegates to the manager's idempotent teardown.
func (c *Controller) End(ctx context.Context, sessionID string) (*session.Session, error) {
	return c.m.RequestEnd(ctx, sessionID)
}

func (c *Controller) activeLeg(ctx context.Context, sessionID string, role session.LegRole) (*session.Session, *session.Leg, error) {
	s, err := c.m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if s.State != session.StateActive {
		return nil, nil, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	leg := s.Leg(role)
	if leg == nil {
		return nil, nil, fmt.Errorf("%w: %s leg not attached", ErrInvalidState, role)
	}
	return s, leg, nil
}

func (c *Controller) controlAtProvider(ctx context.Context, s *session.Session, leg *session.Leg, role session.LegRole, action provider.ControlAction) error {
	adapter, err := c.m.providers.Get(s.Provider)
	if err != nil {
		return err
	}
	if !adapter.Supports(provider.OpControlLeg) {
		return fmt.Errorf("%w: %s control_leg", provider.ErrCapabilityNotAvailable, s.Provider)
	}
	_, err = adapter.ControlLeg(ctx, provider.ControlLegRequest{
		SessionID:          s.ID,
		ProviderSessionRef: s.ProviderSessionRef,
		LegRef:             leg.ProviderRef,
		Role:               role,
		Action:             action,
	})
	return err
}

// commitFlag records the acknowledged control on the snapshot. A session
// that went terminal while the provider call was in flight is left alone;
// the flag is moot once the call is over.
func (c *Controller) commitFlag(ctx context.Context, sessionID string, role session.LegRole, set func(*session.Leg)) (*session.Session, error) {
	committed, _, err := c.m.mutateSession(ctx, sessionID, func(cur *session.Session) error {
		if cur.State.Terminal() {
			return errSkipWrite
		}
		leg := cur.Leg(role)
		if leg == nil {
			return errSkipWrite
		}
		set(leg)
		cur.UpdatedAt = c.m.clock()
		return nil
	})
	return committed, err
}
